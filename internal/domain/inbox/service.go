package inbox

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cardiodx/cardiodx/internal/platform/auth"
)

// Feed sizes per source; the merged feed is capped at feedLimit.
const (
	feedLimit     = 20
	userLimit     = 20
	audienceLimit = 10
)

var ErrInvalid = errors.New("invalid notification")

// Mailer queues templated mail.
type Mailer interface {
	SendTemplate(templateID string, data map[string]string, to ...string) error
}

// AdminDirectory lists the mailboxes of active admins.
type AdminDirectory interface {
	ActiveAdminEmails(ctx context.Context) ([]string, error)
}

type Service struct {
	repo   NotificationRepository
	mailer Mailer
	admins AdminDirectory
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(repo NotificationRepository, mailer Mailer, admins AdminDirectory, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		mailer: mailer,
		admins: admins,
		logger: logger.With().Str("component", "inbox").Logger(),
		now:    time.Now,
	}
}

var validTypes = map[string]bool{TypeInfo: true, TypeSuccess: true, TypeWarning: true, TypeAlert: true}

func (s *Service) Create(ctx context.Context, n *Notification) error {
	var missing []string
	if strings.TrimSpace(n.Title) == "" {
		missing = append(missing, "title")
	}
	if strings.TrimSpace(n.Message) == "" {
		missing = append(missing, "message")
	}
	if n.Audience == "" {
		missing = append(missing, "audience")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s required", ErrInvalid, strings.Join(missing, ", "))
	}
	if n.Type == "" {
		n.Type = TypeInfo
	}
	if !validTypes[n.Type] {
		return fmt.Errorf("%w: unknown type %q", ErrInvalid, n.Type)
	}
	if n.Priority == "" {
		n.Priority = PriorityNormal
	}

	switch n.Audience {
	case AudienceUser:
		if n.RecipientUserID == nil || *n.RecipientUserID == "" {
			return fmt.Errorf("%w: recipient_user_id is required for audience user", ErrInvalid)
		}
		n.RecipientRole = nil
	case AudienceRole:
		if n.RecipientRole == nil || *n.RecipientRole == "" {
			return fmt.Errorf("%w: recipient_role is required for audience role", ErrInvalid)
		}
		n.RecipientUserID = nil
	case AudienceAdmin:
		n.RecipientRole = strPtr(auth.RoleAdmin)
		n.RecipientUserID = nil
	case AudienceAll:
		n.RecipientUserID, n.RecipientRole = nil, nil
	default:
		return fmt.Errorf("%w: unknown audience %q", ErrInvalid, n.Audience)
	}
	return s.repo.Create(ctx, n)
}

// NotifyUser is a shorthand for a single-user notification.
func (s *Service) NotifyUser(ctx context.Context, userID, typ, title, message, link string) error {
	return s.Create(ctx, &Notification{
		Title:           title,
		Message:         message,
		Type:            typ,
		Audience:        AudienceUser,
		RecipientUserID: strPtr(userID),
		LinkURL:         strPtr(link),
	})
}

// Broadcast notifies everyone.
func (s *Service) Broadcast(ctx context.Context, typ, priority, title, message, link string) error {
	return s.Create(ctx, &Notification{
		Title:    title,
		Message:  message,
		Type:     typ,
		Audience: AudienceAll,
		Priority: priority,
		LinkURL:  strPtr(link),
	})
}

// AlertAdmins stores an admin notification and mails every active admin.
// Mail is best effort; failures are logged.
func (s *Service) AlertAdmins(ctx context.Context, n *Notification, templateID string, data map[string]string) error {
	n.Audience = AudienceAdmin
	if n.Type == "" {
		n.Type = TypeAlert
	}
	if err := s.Create(ctx, n); err != nil {
		return err
	}
	s.MailAdmins(ctx, templateID, data)
	return nil
}

// MailAdmins queues a templated mail to every active admin. Failures are
// logged.
func (s *Service) MailAdmins(ctx context.Context, templateID string, data map[string]string) {
	if s.mailer == nil || s.admins == nil || templateID == "" {
		return
	}
	emails, err := s.admins.ActiveAdminEmails(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("listing admins for mail")
		return
	}
	for _, to := range emails {
		if err := s.mailer.SendTemplate(templateID, data, to); err != nil {
			s.logger.Warn().Err(err).Str("to", to).Str("template", templateID).Msg("queueing admin mail")
		}
	}
}

// Feed merges the caller's direct, broadcast and role notifications,
// newest first.
func (s *Service) Feed(ctx context.Context, p auth.Principal) ([]*Notification, error) {
	direct, err := s.repo.ListByRecipient(ctx, p.UserID, userLimit)
	if err != nil {
		return nil, err
	}
	all, err := s.repo.ListByAudience(ctx, AudienceAll, audienceLimit)
	if err != nil {
		return nil, err
	}
	merged := append(direct, all...)
	for _, role := range p.Roles {
		byRole, err := s.repo.ListByRole(ctx, role, audienceLimit)
		if err != nil {
			return nil, err
		}
		merged = append(merged, byRole...)
	}

	seen := make(map[uuid.UUID]bool, len(merged))
	feed := make([]*Notification, 0, len(merged))
	for _, n := range merged {
		if seen[n.ID] {
			continue
		}
		seen[n.ID] = true
		feed = append(feed, n)
	}
	sort.SliceStable(feed, func(i, j int) bool { return feed[i].CreatedAt.After(feed[j].CreatedAt) })
	if len(feed) > feedLimit {
		feed = feed[:feedLimit]
	}
	return feed, nil
}

func (s *Service) UnreadCount(ctx context.Context, p auth.Principal) (int, error) {
	feed, err := s.Feed(ctx, p)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, n := range feed {
		if n.Unread() {
			count++
		}
	}
	return count, nil
}

func visibleTo(n *Notification, p auth.Principal) bool {
	switch n.Audience {
	case AudienceAll:
		return true
	case AudienceUser:
		return n.RecipientUserID != nil && *n.RecipientUserID == p.UserID
	default:
		return n.RecipientRole != nil && p.HasRole(*n.RecipientRole)
	}
}

// MarkRead sets read_at once; repeated calls leave it unchanged.
func (s *Service) MarkRead(ctx context.Context, p auth.Principal, id uuid.UUID) (*Notification, error) {
	n, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !visibleTo(n, p) {
		return nil, ErrNotFound
	}
	if n.ReadAt != nil {
		return n, nil
	}
	at := s.now().UTC()
	if _, err := s.repo.MarkRead(ctx, at, id); err != nil {
		return nil, err
	}
	n.ReadAt = &at
	return n, nil
}

// MarkAllRead marks every unread item of the caller's feed.
func (s *Service) MarkAllRead(ctx context.Context, p auth.Principal) (int, error) {
	feed, err := s.Feed(ctx, p)
	if err != nil {
		return 0, err
	}
	var ids []uuid.UUID
	for _, n := range feed {
		if n.Unread() {
			ids = append(ids, n.ID)
		}
	}
	return s.repo.MarkRead(ctx, s.now().UTC(), ids...)
}

// AdminNotifications feeds the system log.
func (s *Service) AdminNotifications(ctx context.Context, limit int) ([]*Notification, error) {
	return s.repo.ListAdmin(ctx, limit)
}
