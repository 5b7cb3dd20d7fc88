package contacts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"medchat-gateway/internal/constants"
	"medchat-gateway/internal/storage/database/directory"

	"golang.org/x/sync/errgroup"
)

// ErrUnknownRole 用戶角色不在已知集合內.
var ErrUnknownRole = errors.New("unknown role")

// Directory 聯絡人解析需要的用戶目錄操作.
type Directory interface {
	FindByRoles(ctx context.Context, excludeID string, roles ...directory.Role) ([]*directory.User, error)
	FindByIDs(ctx context.Context, ids []string) ([]*directory.User, error)
	ListExcept(ctx context.Context, excludeID string, limit int) ([]*directory.User, error)
	Search(ctx context.Context, fragment string, limit int) ([]*directory.User, error)
}

// Appointments 預約服務（外部協作者）.
type Appointments interface {
	DistinctPatientIDsForDoctor(ctx context.Context, doctorID string) ([]string, error)
}

// UnreadCounter 未讀訊息統計.
type UnreadCounter interface {
	CountUnreadFrom(ctx context.Context, senderID, receiverID string) (int64, error)
	DistinctSendersTo(ctx context.Context, receiverID string) ([]string, error)
}

// Profile 對外公開的用戶資料，不含 email.
type Profile struct {
	ID         string         `json:"_id"`
	FullName   string         `json:"fullName"`
	Role       directory.Role `json:"role"`
	ProfilePic string         `json:"profilePic"`
	Speciality string         `json:"speciality,omitempty"`
}

// NewProfile 從目錄用戶取出公開欄位.
func NewProfile(u *directory.User) Profile {
	return Profile{
		ID:         u.ID,
		FullName:   u.FullName,
		Role:       u.Role,
		ProfilePic: u.ProfilePic,
		Speciality: u.Speciality,
	}
}

// Contact 聯絡人項目，帶有對方發給我的未讀數.
type Contact struct {
	Profile
	Unread int64 `json:"unread"`
}

// Policy 依角色決定可見的聯絡人.
type Policy interface {
	Candidates(ctx context.Context, requester *directory.User) ([]*directory.User, error)
}

// Options 解析器參數.
type Options struct {
	AdminLimit        int
	SearchLimit       int
	UnreadConcurrency int
}

// Resolver 聯絡人解析器
type Resolver struct {
	dir         Directory
	counter     UnreadCounter
	policies    map[directory.Role]Policy
	searchLimit int
	concurrency int
}

// NewResolver 創建聯絡人解析器
func NewResolver(dir Directory, appts Appointments, counter UnreadCounter, opts Options) *Resolver {
	if opts.AdminLimit <= 0 {
		opts.AdminLimit = constants.DefaultAdminContactLimit
	}
	if opts.SearchLimit <= 0 {
		opts.SearchLimit = constants.DefaultSearchLimit
	}
	if opts.UnreadConcurrency <= 0 {
		opts.UnreadConcurrency = constants.DefaultUnreadConcurrency
	}

	return &Resolver{
		dir:     dir,
		counter: counter,
		policies: map[directory.Role]Policy{
			directory.RolePatient: patientPolicy{dir: dir},
			directory.RoleDoctor:  doctorPolicy{dir: dir, appts: appts, senders: counter},
			directory.RoleAdmin:   adminPolicy{dir: dir, limit: opts.AdminLimit},
		},
		searchLimit: opts.SearchLimit,
		concurrency: opts.UnreadConcurrency,
	}
}

// PolicyFor 取得角色對應的策略.
func (r *Resolver) PolicyFor(role directory.Role) (Policy, error) {
	p, ok := r.policies[role]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	return p, nil
}

// ContactsFor 列出用戶可見的聯絡人並附上未讀數.
func (r *Resolver) ContactsFor(ctx context.Context, requester *directory.User) ([]*Contact, error) {
	policy, err := r.PolicyFor(requester.Role)
	if err != nil {
		return nil, err
	}

	users, err := policy.Candidates(ctx, requester)
	if err != nil {
		return nil, fmt.Errorf("resolve contacts for %s: %w", requester.ID, err)
	}

	contacts := make([]*Contact, len(users))
	for i, u := range users {
		contacts[i] = &Contact{Profile: NewProfile(u)}
	}

	// 每個聯絡人一次計數查詢，併發上限避免壓垮資料庫
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, c := range contacts {
		g.Go(func() error {
			n, err := r.counter.CountUnreadFrom(gctx, c.ID, requester.ID)
			if err != nil {
				return fmt.Errorf("count unread from %s: %w", c.ID, err)
			}
			c.Unread = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return contacts, nil
}

// Search 依姓名或 ID 片段搜尋用戶，排除自己.
func (r *Resolver) Search(ctx context.Context, requesterID, fragment string) ([]*Profile, error) {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return []*Profile{}, nil
	}

	// 多取一筆，排除自己後仍能湊滿上限
	users, err := r.dir.Search(ctx, fragment, r.searchLimit+1)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}

	result := make([]*Profile, 0, len(users))
	for _, u := range users {
		if u.ID == requesterID {
			continue
		}
		if len(result) == r.searchLimit {
			break
		}
		p := NewProfile(u)
		result = append(result, &p)
	}
	return result, nil
}
