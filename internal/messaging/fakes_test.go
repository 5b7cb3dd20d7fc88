package messaging

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"

	"medchat-gateway/internal/attachment"
	"medchat-gateway/internal/contacts"
	"medchat-gateway/internal/security/encryption"
	"medchat-gateway/internal/security/keymanager"
	"medchat-gateway/internal/storage/database/directory"
	"medchat-gateway/internal/storage/database/message"
	"medchat-gateway/internal/storage/database/report"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// memStore 記憶體版的訊息存儲.
type memStore struct {
	mu   sync.Mutex
	msgs []*message.Message
}

func (s *memStore) Create(_ context.Context, m *message.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.msgs = append(s.msgs, &cp)
	return nil
}

func (s *memStore) FindConversation(_ context.Context, a, b string) ([]*message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*message.Message
	for _, m := range s.msgs {
		if (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a) {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID.Hex() < out[j].ID.Hex()
	})
	return out, nil
}

func (s *memStore) MarkConversationRead(_ context.Context, sender, receiver string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, m := range s.msgs {
		if m.SenderID == sender && m.ReceiverID == receiver && !m.Read {
			m.Read = true
			n++
		}
	}
	return n, nil
}

func (s *memStore) CountUnread(_ context.Context, receiver string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, m := range s.msgs {
		if m.ReceiverID == receiver && !m.Read {
			n++
		}
	}
	return n, nil
}

func (s *memStore) CountUnreadFrom(_ context.Context, sender, receiver string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, m := range s.msgs {
		if m.SenderID == sender && m.ReceiverID == receiver && !m.Read {
			n++
		}
	}
	return n, nil
}

func (s *memStore) RecentUnread(_ context.Context, receiver string, limit int) ([]*message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*message.Message
	for _, m := range s.msgs {
		if m.ReceiverID == receiver && !m.Read {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) DistinctSendersTo(_ context.Context, receiver string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, m := range s.msgs {
		if m.ReceiverID == receiver && !seen[m.SenderID] {
			seen[m.SenderID] = true
			out = append(out, m.SenderID)
		}
	}
	return out, nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

// fakeDirectory 同時滿足 Users 與 contacts.Directory.
type fakeDirectory struct {
	users []*directory.User
	err   error
}

func (f *fakeDirectory) FindByID(_ context.Context, id string) (*directory.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, u := range f.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, directory.ErrUserNotFound
}

func (f *fakeDirectory) FindByIDs(_ context.Context, ids []string) ([]*directory.User, error) {
	want := map[string]bool{}
	for _, id := range ids {
		want[id] = true
	}
	var out []*directory.User
	for _, u := range f.users {
		if want[u.ID] {
			out = append(out, u)
		}
	}
	return out, nil
}

func (f *fakeDirectory) FindByRoles(_ context.Context, excludeID string, roles ...directory.Role) ([]*directory.User, error) {
	var out []*directory.User
	for _, u := range f.users {
		for _, r := range roles {
			if u.Role == r && u.ID != excludeID {
				out = append(out, u)
			}
		}
	}
	return out, nil
}

func (f *fakeDirectory) ListExcept(_ context.Context, excludeID string, limit int) ([]*directory.User, error) {
	var out []*directory.User
	for _, u := range f.users {
		if u.ID != excludeID && len(out) < limit {
			out = append(out, u)
		}
	}
	return out, nil
}

func (f *fakeDirectory) Search(_ context.Context, fragment string, limit int) ([]*directory.User, error) {
	var out []*directory.User
	for _, u := range f.users {
		if strings.Contains(strings.ToLower(u.FullName), strings.ToLower(fragment)) && len(out) < limit {
			out = append(out, u)
		}
	}
	return out, nil
}

type noAppointments struct{}

func (noAppointments) DistinctPatientIDsForDoctor(context.Context, string) ([]string, error) {
	return nil, nil
}

// fakeReports 報告存儲.
type fakeReports struct {
	files map[string]*report.StoredFile
	err   error
}

func (f *fakeReports) FindByID(_ context.Context, id string) (*report.StoredFile, error) {
	if f.err != nil {
		return nil, f.err
	}
	if file, ok := f.files[id]; ok {
		return file, nil
	}
	return nil, report.ErrReportNotFound
}

func (f *fakeReports) ListByPatient(_ context.Context, patientID string) ([]*report.StoredFile, error) {
	var out []*report.StoredFile
	for _, file := range f.files {
		if file.PatientID == patientID {
			out = append(out, file)
		}
	}
	return out, nil
}

type prefixSigner struct{}

func (prefixSigner) Sign(_ context.Context, obj attachment.Object) (string, error) {
	return "signed:" + obj.URL, nil
}

type recordingNotifier struct {
	calls []string
}

func (n *recordingNotifier) Deliver(_ context.Context, senderID, receiverID, content, _ string) {
	n.calls = append(n.calls, senderID+">"+receiverID+":"+content)
}

type recordingPublisher struct {
	events []*MessageSentEvent
	err    error
}

func (p *recordingPublisher) PublishMessageSent(_ context.Context, e *MessageSentEvent) error {
	p.events = append(p.events, e)
	return p.err
}

var errBoom = errors.New("boom")

const reportID = "65f0a1b2c3d4e5f6a7b8c9d0"

type fixture struct {
	store   *memStore
	dir     *fakeDirectory
	reports *fakeReports
	svc     *Service
}

func clinicUsers() []*directory.User {
	return []*directory.User{
		{ID: "PAT001", FullName: "Alice Patient", Role: directory.RolePatient},
		{ID: "PAT002", FullName: "Bob Patient", Role: directory.RolePatient},
		{ID: "DOC001", FullName: "Dr. Carol", Email: "carol@clinic.example", Role: directory.RoleDoctor, Speciality: "Cardiology"},
		{ID: "DOC002", FullName: "Dr. Dave", Email: "dave@clinic.example", Role: directory.RoleDoctor},
		{ID: "ADM001", FullName: "Admin Eve", Role: directory.RoleAdmin},
	}
}

func newFixture(t *testing.T, opts Options, options ...Option) *fixture {
	t.Helper()
	oid, err := bson.ObjectIDFromHex(reportID)
	if err != nil {
		t.Fatal(err)
	}
	f := &fixture{
		store: &memStore{},
		dir:   &fakeDirectory{users: clinicUsers()},
		reports: &fakeReports{files: map[string]*report.StoredFile{
			reportID: {ID: oid, PatientID: "PAT001", Title: "Blood test", FileURL: "https://files/blood.pdf", MimeType: "application/pdf"},
		}},
	}
	resolver := contacts.NewResolver(f.dir, noAppointments{}, f.store, contacts.Options{})
	f.svc = NewService(f.store, f.dir, attachment.NewResolver(f.reports, prefixSigner{}), resolver, opts, options...)
	return f
}

func testSealer(t *testing.T) *encryption.MessageEncryption {
	t.Helper()
	km, err := keymanager.NewKeyManager(bytes.Repeat([]byte{7}, keymanager.MasterKeyLength))
	if err != nil {
		t.Fatal(err)
	}
	return encryption.NewMessageEncryption(true, km)
}

func (f *fixture) user(id string) *directory.User {
	u, _ := f.dir.FindByID(context.Background(), id)
	return u
}
