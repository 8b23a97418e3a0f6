package transfer

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/huangang/trackersync/internal/models"
	"github.com/huangang/trackersync/internal/services/gitlab"
	"github.com/huangang/trackersync/pkg/logger"
	"gorm.io/gorm"
)

var (
	usernamePattern = regexp.MustCompile(`^[\w.-]+$`)
	numericPattern  = regexp.MustCompile(`^\d+$`)
)

// UserDirectory is the remote user lookup used when the local cache misses.
type UserDirectory interface {
	FindUser(ctx context.Context, username string) (*gitlab.User, error)
	SearchUsers(ctx context.Context, search string) ([]gitlab.User, error)
}

// AssigneeResolver maps a Redmine assignee name to GitLab user IDs. Remote
// lookups are cached, hits and misses alike, for the lifetime of the
// resolver. Create one per run.
type AssigneeResolver struct {
	db      *gorm.DB
	users   UserDirectory
	mapping map[string]string

	usernameCache map[string]int
	searchCache   map[string]int
}

// NewAssigneeResolver accepts a nil users directory, in which case only the
// mapping and the local assignee cache are consulted.
func NewAssigneeResolver(db *gorm.DB, users UserDirectory, mapping map[string]string) *AssigneeResolver {
	return &AssigneeResolver{
		db:            db,
		users:         users,
		mapping:       buildMapping(mapping),
		usernameCache: map[string]int{},
		searchCache:   map[string]int{},
	}
}

func buildMapping(raw map[string]string) map[string]string {
	mapping := make(map[string]string, len(raw))
	for name, user := range raw {
		key := normalizeKey(name)
		identifier := strings.TrimPrefix(strings.TrimSpace(user), "@")
		if key == "" || identifier == "" {
			continue
		}
		mapping[key] = identifier
		if inferred := fullName(name); inferred != "" {
			mapping[strings.ToLower(inferred)] = identifier
		}
	}
	return mapping
}

// Resolve returns the GitLab user IDs for name, or nil when nothing matches.
func (r *AssigneeResolver) Resolve(ctx context.Context, name string) []int {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return nil
	}

	identifier, mapped := r.mapping[strings.ToLower(trimmed)]
	if !mapped {
		identifier = fullName(trimmed)
		if identifier == "" {
			identifier = strings.TrimPrefix(trimmed, "@")
		}
	}

	if numericPattern.MatchString(identifier) {
		id, err := strconv.Atoi(identifier)
		if err == nil {
			return []int{id}
		}
	}

	if id := r.lookupLocal(identifier); id > 0 {
		return []int{id}
	}

	if r.users == nil {
		return nil
	}
	var id int
	if usernamePattern.MatchString(identifier) {
		id = r.findUser(ctx, identifier)
	} else {
		id = r.searchUser(ctx, identifier)
	}
	if id > 0 {
		return []int{id}
	}
	return nil
}

func (r *AssigneeResolver) lookupLocal(identifier string) int {
	if r.db == nil {
		return 0
	}
	var record models.Assignee
	key := strings.ToLower(identifier)
	err := r.db.Where("LOWER(username) = ? OR LOWER(display_name) = ?", key, key).
		Order("id").Limit(1).Find(&record).Error
	if err != nil {
		logger.Warnf("[GitLab] Local assignee lookup failed for %s: %v", identifier, err)
		return 0
	}
	return record.ExternalID
}

func (r *AssigneeResolver) findUser(ctx context.Context, username string) int {
	if id, ok := r.usernameCache[username]; ok {
		return id
	}
	user, err := r.users.FindUser(ctx, username)
	id := 0
	switch {
	case err != nil:
		logger.Warnf("[GitLab] Assignee lookup failed for %s: %v", username, err)
	case user != nil:
		id = user.ID
	}
	r.usernameCache[username] = id
	return id
}

func (r *AssigneeResolver) searchUser(ctx context.Context, name string) int {
	if id, ok := r.searchCache[name]; ok {
		return id
	}
	users, err := r.users.SearchUsers(ctx, name)
	id := 0
	if err != nil {
		logger.Warnf("[GitLab] User search failed for %s: %v", name, err)
	} else if len(users) > 0 {
		id = users[0].ID
		for _, u := range users {
			if strings.EqualFold(u.Name, name) {
				id = u.ID
				break
			}
		}
	}
	r.searchCache[name] = id
	return id
}

// fullName turns "Last, First" into "First Last". Anything else yields "".
func fullName(raw string) string {
	parts := strings.Split(raw, ",")
	if len(parts) != 2 {
		return ""
	}
	last, first := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	return strings.TrimSpace(first + " " + last)
}
