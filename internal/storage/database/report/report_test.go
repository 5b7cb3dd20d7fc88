package report

import "testing"

func TestStoredFileClass(t *testing.T) {
	tests := []struct {
		name string
		file StoredFile
		want ResourceType
	}{
		{"typed raw", StoredFile{ResourceType: ResourceRaw, MimeType: "image/png"}, ResourceRaw},
		{"typed image", StoredFile{ResourceType: ResourceImage}, ResourceImage},
		{"legacy image mime", StoredFile{MimeType: "image/jpeg"}, ResourceImage},
		{"legacy pdf mime", StoredFile{MimeType: "application/pdf"}, ResourceRaw},
		{"legacy no mime", StoredFile{}, ResourceRaw},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.file.Class(); got != tt.want {
				t.Errorf("Class() = %s, want %s", got, tt.want)
			}
		})
	}
}
