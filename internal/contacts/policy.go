package contacts

import (
	"context"
	"fmt"

	"medchat-gateway/internal/storage/database/directory"
)

// patientPolicy 病患可以聯絡所有醫師與管理員.
type patientPolicy struct {
	dir Directory
}

func (p patientPolicy) Candidates(ctx context.Context, requester *directory.User) ([]*directory.User, error) {
	return p.dir.FindByRoles(ctx, requester.ID, directory.RoleDoctor, directory.RoleAdmin)
}

// adminPolicy 管理員可以看到其他所有用戶，依存儲順序取前 limit 筆.
type adminPolicy struct {
	dir   Directory
	limit int
}

func (p adminPolicy) Candidates(ctx context.Context, requester *directory.User) ([]*directory.User, error) {
	return p.dir.ListExcept(ctx, requester.ID, p.limit)
}

// doctorPolicy 醫師的聯絡人：
// 其他醫師與管理員，加上有預約（任何狀態）或曾傳訊息給他的病患.
type doctorPolicy struct {
	dir     Directory
	appts   Appointments
	senders UnreadCounter
}

func (p doctorPolicy) Candidates(ctx context.Context, requester *directory.User) ([]*directory.User, error) {
	colleagues, err := p.dir.FindByRoles(ctx, requester.ID, directory.RoleDoctor, directory.RoleAdmin)
	if err != nil {
		return nil, err
	}

	patientIDs, err := p.appts.DistinctPatientIDsForDoctor(ctx, requester.ID)
	if err != nil {
		return nil, fmt.Errorf("appointments: %w", err)
	}
	senderIDs, err := p.senders.DistinctSendersTo(ctx, requester.ID)
	if err != nil {
		return nil, fmt.Errorf("message senders: %w", err)
	}

	seen := map[string]bool{requester.ID: true}
	result := make([]*directory.User, 0, len(colleagues)+len(patientIDs))
	for _, u := range colleagues {
		if !seen[u.ID] {
			seen[u.ID] = true
			result = append(result, u)
		}
	}

	ids := make([]string, 0, len(patientIDs)+len(senderIDs))
	for _, id := range append(patientIDs, senderIDs...) {
		if id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return result, nil
	}

	others, err := p.dir.FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, u := range others {
		// 非病患的發送者已在同事集合中
		if u.Role == directory.RolePatient {
			result = append(result, u)
		}
	}
	return result, nil
}
