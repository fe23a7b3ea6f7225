// Package users manages accounts, their approval lifecycle and admin
// invitations.
package users

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/cardiodx/cardiodx/internal/platform/auth"
	"github.com/cardiodx/cardiodx/internal/platform/db"
	"github.com/cardiodx/cardiodx/internal/platform/notification"
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrInvalidTransition  = errors.New("status change not allowed")
	ErrSelfChange         = errors.New("admins cannot change their own status")
	ErrAlreadyMember      = errors.New("a user with this email already exists")
	ErrInvitationExpired  = errors.New("invitation has expired")
	ErrInvitationRevoked  = errors.New("invitation has been revoked")
	ErrInvitationAccepted = errors.New("invitation has already been accepted")
	ErrEmailMismatch      = errors.New("invitation was issued to a different email")
)

// Mailer queues templated mail.
type Mailer interface {
	SendTemplate(templateID string, data map[string]string, to ...string) error
}

type Service struct {
	users     UserRepository
	invites   InvitationRepository
	mailer    Mailer
	tx        db.TxRunner
	validate  *validator.Validate
	publicURL string
	logger    zerolog.Logger
	now       func() time.Time
}

func NewService(users UserRepository, invites InvitationRepository, mailer Mailer, tx db.TxRunner, logger zerolog.Logger) *Service {
	return &Service{
		users:    users,
		invites:  invites,
		mailer:   mailer,
		tx:       tx,
		validate: validator.New(),
		logger:   logger.With().Str("component", "users").Logger(),
		now:      time.Now,
	}
}

// SetPublicURL sets the base used for invitation links.
func (s *Service) SetPublicURL(u string) {
	s.publicURL = strings.TrimRight(u, "/")
}

func primaryRole(p auth.Principal) string {
	if p.IsAdmin() {
		return auth.RoleAdmin
	}
	return auth.RoleDoctor
}

// EnsureUser returns the account for the caller, creating it on first
// sight. Admin identities start active; everyone else waits for approval.
func (s *Service) EnsureUser(ctx context.Context, p auth.Principal) (*User, error) {
	if p.UserID == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrValidation)
	}
	u, err := s.users.GetByID(ctx, p.UserID)
	switch {
	case err == nil:
		if (p.Email == "" || p.Email == u.Email) && (p.Name == "" || p.Name == u.FullName) {
			return u, nil
		}
		if p.Email != "" {
			u.Email = p.Email
		}
		if p.Name != "" {
			u.FullName = p.Name
		}
	case errors.Is(err, ErrNotFound):
		u = &User{ID: p.UserID, Email: p.Email, FullName: p.Name, Role: primaryRole(p), Status: StatusPendingApproval}
		if u.Role == auth.RoleAdmin {
			u.Status = StatusActive
		}
		s.logger.Info().Str("user_id", u.ID).Str("role", u.Role).Str("status", u.Status).Msg("user registered")
	default:
		return nil, err
	}
	if err := s.users.Upsert(ctx, u); err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return u, nil
}

func (s *Service) Get(ctx context.Context, id string) (*User, error) {
	return s.users.GetByID(ctx, id)
}

// List filters by status; "" or "all" returns every user.
func (s *Service) List(ctx context.Context, status string) ([]*User, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	if status == "all" {
		status = ""
	}
	if status != "" && !validStatuses[status] {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, status)
	}
	return s.users.List(ctx, status)
}

// transitions lists the statuses each action may start from.
var transitions = map[string][]string{
	StatusActive:   {StatusPendingApproval, StatusDisabled, StatusRejected},
	StatusRejected: {StatusPendingApproval},
	StatusDisabled: {StatusActive},
}

func (s *Service) setStatus(ctx context.Context, id, to string) (*User, error) {
	if id == auth.UserIDFromContext(ctx) {
		return nil, ErrSelfChange
	}
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	allowed := false
	for _, from := range transitions[to] {
		if u.Status == from {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, u.Status, to)
	}
	updated, err := s.users.UpdateStatus(ctx, id, to)
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("user_id", id).
		Str("from", u.Status).
		Str("to", to).
		Str("by", auth.UserIDFromContext(ctx)).
		Msg("user status changed")
	return updated, nil
}

func (s *Service) Approve(ctx context.Context, id string) (*User, error) {
	return s.setStatus(ctx, id, StatusActive)
}

func (s *Service) Reject(ctx context.Context, id string) (*User, error) {
	return s.setStatus(ctx, id, StatusRejected)
}

func (s *Service) Disable(ctx context.Context, id string) (*User, error) {
	return s.setStatus(ctx, id, StatusDisabled)
}

func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func (s *Service) validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s (%s)", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return fmt.Errorf("%w: invalid %s", ErrValidation, strings.Join(fields, ", "))
}

// Invite stores an invitation and mails its link. Mail delivery is best
// effort; the returned invitation carries the token either way.
func (s *Service) Invite(ctx context.Context, req InviteRequest) (*Invitation, error) {
	req.Email = strings.TrimSpace(req.Email)
	req.Role = strings.ToLower(strings.TrimSpace(req.Role))
	if err := s.validate.Struct(req); err != nil {
		return nil, s.validationError(err)
	}
	if req.Role == "" {
		req.Role = auth.RoleDoctor
	}
	if existing, err := s.users.GetByEmail(ctx, req.Email); err == nil && existing.Status != StatusRejected {
		return nil, ErrAlreadyMember
	} else if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	token, err := newToken()
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}
	inviter := auth.PrincipalFromContext(ctx)
	inv := &Invitation{
		Email:     strings.ToLower(req.Email),
		Role:      req.Role,
		Token:     token,
		InvitedBy: inviter.UserID,
		Status:    InvitePending,
		ExpiresAt: s.now().Add(InvitationTTL),
	}
	if err := s.invites.Create(ctx, inv); err != nil {
		return nil, fmt.Errorf("create invitation: %w", err)
	}

	by := inviter.Name
	if by == "" {
		by = inviter.Email
	}
	if by == "" {
		by = "An administrator"
	}
	data := map[string]string{
		"invited_by": by,
		"role":       inv.Role,
		"link":       s.publicURL + "/invitations/accept?token=" + token,
		"expires_at": inv.ExpiresAt.Format("2006-01-02"),
	}
	if err := s.mailer.SendTemplate(notification.TemplateInvitation, data, inv.Email); err != nil {
		s.logger.Warn().Err(err).Str("email", inv.Email).Msg("invitation mail not queued")
	}
	s.logger.Info().Str("invitation_id", inv.ID.String()).Str("role", inv.Role).Msg("invitation created")
	return inv, nil
}

// AcceptInvitation activates the caller with the invited role.
func (s *Service) AcceptInvitation(ctx context.Context, token string) (*User, error) {
	p := auth.PrincipalFromContext(ctx)
	if p.UserID == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrValidation)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("%w: token is required", ErrValidation)
	}
	inv, err := s.invites.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	switch {
	case inv.Status == InviteRevoked:
		return nil, ErrInvitationRevoked
	case inv.Status == InviteAccepted:
		return nil, ErrInvitationAccepted
	case inv.Expired(s.now()):
		return nil, ErrInvitationExpired
	}
	if p.Email != "" && !strings.EqualFold(p.Email, inv.Email) {
		return nil, ErrEmailMismatch
	}

	u := &User{ID: p.UserID, Email: inv.Email, FullName: p.Name, Role: inv.Role, Status: StatusActive}
	if existing, err := s.users.GetByID(ctx, p.UserID); err == nil && u.FullName == "" {
		u.FullName = existing.FullName
	}
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.invites.MarkAccepted(ctx, inv.ID, s.now()); err != nil {
			return fmt.Errorf("accept invitation: %w", err)
		}
		if err := s.users.Upsert(ctx, u); err != nil {
			return fmt.Errorf("activate user: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("user_id", u.ID).Str("role", u.Role).Msg("invitation accepted")
	return u, nil
}

// ActiveAdminEmails lists the mailboxes of active admins.
func (s *Service) ActiveAdminEmails(ctx context.Context) ([]string, error) {
	admins, err := s.users.ListActiveByRole(ctx, auth.RoleAdmin)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(admins))
	for _, u := range admins {
		if u.Email != "" {
			out = append(out, u.Email)
		}
	}
	return out, nil
}
