package app

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"petition/api/internal/auth"
	"petition/api/internal/captcha"
	"petition/api/internal/config"
	"petition/api/internal/filter"
	"petition/api/internal/form"
	"petition/api/internal/petition"
	"petition/api/internal/remote"
	"petition/api/internal/session"
	"petition/api/internal/signature"
	"petition/api/internal/view"
)

const sessionTokenTTL = 24 * time.Hour

// dataStore is the remote commit backend as seen by the service.
type dataStore interface {
	FetchAll(ctx context.Context) ([]signature.Signature, error)
	Submit(ctx context.Context, sub remote.Submission) (*signature.Signature, error)
	Count(ctx context.Context) (int, error)
}

type Session struct {
	ID        string
	Token     string
	SiteKey   string
	ExpiresAt time.Time
}

// FormState is the coordinator view plus the captcha gate the page needs to
// keep its widget in step.
type FormState struct {
	form.View
	Captcha       string `json:"captcha"`
	CaptchaResets int    `json:"captcha_resets"`
	SiteKey       string `json:"site_key"`
}

type PetitionView struct {
	Petition   petition.Data     `json:"petition"`
	Progress   petition.Progress `json:"progress"`
	CreatorURL string            `json:"creatorUrl"`
}

type Service struct {
	cfg        config.Config
	store      dataStore
	petition   petition.Data
	signatures *signature.Store
	sessions   *session.Registry
	renderer   *view.Renderer
	signer     *auth.Signer
	logger     *zap.Logger
	loaded     atomic.Bool
}

func New(cfg config.Config, dataStore dataStore, data petition.Data, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RevertAfter <= 0 {
		cfg.RevertAfter = form.DefaultRevertAfter
	}
	renderer, err := view.NewRenderer()
	if err != nil {
		return nil, err
	}
	signer, err := auth.NewSigner(cfg.SessionKey, sessionTokenTTL)
	if err != nil {
		return nil, err
	}
	signatures := signature.NewStore()
	sessions := session.NewRegistry(dataStore, signatures, session.Config{
		SiteKey:      cfg.SiteKey,
		PollInterval: cfg.CaptchaPoll,
		IdleTTL:      cfg.SessionIdle,
		MaxVisitors:  cfg.MaxSessions,
		Form: form.Config{
			Filter:      filter.New(cfg.Denylist),
			RevertAfter: cfg.RevertAfter,
		},
		Logger: logger,
	})
	return &Service{
		cfg:        cfg,
		store:      dataStore,
		petition:   data,
		signatures: signatures,
		sessions:   sessions,
		renderer:   renderer,
		signer:     signer,
		logger:     logger,
	}, nil
}

// Bootstrap loads the signature list once. A failed fetch leaves the list
// empty and is only logged.
func (s *Service) Bootstrap(ctx context.Context) error {
	list, err := s.store.FetchAll(ctx)
	if err != nil {
		s.logger.Warn("initial signature fetch failed", zap.Error(err))
		list = nil
	}
	s.signatures.ReplaceAll(list)
	s.loaded.Store(true)
	s.logger.Info("signature list loaded", zap.Int("count", len(list)))
	return nil
}

func (s *Service) Loaded() bool {
	return s.loaded.Load()
}

func (s *Service) Ping(ctx context.Context) error {
	if pinger, ok := s.store.(remote.Pinger); ok {
		return pinger.Ping(ctx)
	}
	return nil
}

// RunSweeper closes idle visitor sessions until ctx is done.
func (s *Service) RunSweeper(ctx context.Context) {
	s.sessions.Run(ctx)
}

func (s *Service) Close() {
	s.sessions.Shutdown()
}

func (s *Service) Petition() PetitionView {
	return PetitionView{
		Petition:   s.petition,
		Progress:   s.petition.Progress(s.signatures.Len()),
		CreatorURL: s.petition.CreatorProfileURL(),
	}
}

func (s *Service) Signatures() []signature.Signature {
	return s.signatures.Snapshot()
}

// Count is the exact remote row count, or 0 when the backend cannot answer.
func (s *Service) Count(ctx context.Context) int {
	count, err := s.store.Count(ctx)
	if err != nil {
		s.logger.Warn("signature count failed", zap.Error(err))
		return 0
	}
	return count
}

func (s *Service) ShareURL() string {
	return petition.ShareIntentURL(s.cfg.PublicURL)
}

func (s *Service) OpenSession() (Session, error) {
	visitor, err := s.sessions.Open()
	if err != nil {
		return Session{}, err
	}
	token, claims, err := s.signer.Issue(visitor.ID)
	if err != nil {
		s.sessions.Close(visitor.ID)
		return Session{}, err
	}
	return Session{
		ID:        visitor.ID,
		Token:     token,
		SiteKey:   s.cfg.SiteKey,
		ExpiresAt: claims.ExpiresAt(),
	}, nil
}

func (s *Service) VisitorFromToken(token string) (*session.Visitor, error) {
	claims, err := s.signer.Parse(token)
	if err != nil {
		return nil, err
	}
	return s.sessions.Get(claims.Sub)
}

func (s *Service) FormState(v *session.Visitor) FormState {
	return FormState{
		View:          v.Form.View(),
		Captcha:       v.Gate.State().String(),
		CaptchaResets: v.Widget.Resets(),
		SiteKey:       s.cfg.SiteKey,
	}
}

func (s *Service) UpdateDraft(v *session.Visitor, draft form.Draft) FormState {
	v.Form.SetDraft(draft)
	return s.FormState(v)
}

// Submit runs one attempt for the visitor. The commit is not tied to the
// request lifetime: a visitor closing the tab mid-commit still gets the row.
func (s *Service) Submit(ctx context.Context, v *session.Visitor) (FormState, error) {
	if _, err := v.Form.Submit(context.WithoutCancel(ctx)); err != nil {
		return FormState{}, err
	}
	return s.FormState(v), nil
}

// CaptchaLoaded records that the widget script is available and waits briefly
// for the gate to mount so the page can render into it.
func (s *Service) CaptchaLoaded(ctx context.Context, v *session.Visitor) FormState {
	v.Widget.MarkLoaded()
	select {
	case <-v.Gate.Mounted():
	case <-ctx.Done():
	case <-time.After(time.Second):
		s.logger.Debug("captcha gate not mounted yet", zap.String("session", v.ID))
	}
	return s.FormState(v)
}

func (s *Service) CaptchaVerified(v *session.Visitor, token string) (FormState, error) {
	if token == "" {
		return FormState{}, domainError(http.StatusBadRequest, "TOKEN_REQUIRED", "Captcha token is required", nil)
	}
	if err := v.Widget.Complete(token); err != nil {
		return FormState{}, captchaError(err)
	}
	return s.FormState(v), nil
}

func (s *Service) CaptchaExpired(v *session.Visitor) (FormState, error) {
	if err := v.Widget.Expire(); err != nil {
		return FormState{}, captchaError(err)
	}
	return s.FormState(v), nil
}

func captchaError(err error) error {
	if errors.Is(err, captcha.ErrUnknownWidget) {
		return conflict(err, "CAPTCHA_NOT_MOUNTED", "Captcha widget is not mounted yet")
	}
	return err
}

func (s *Service) Page(v *session.Visitor) view.Page {
	list := s.signatures.Snapshot()
	page := view.Page{
		Petition:      s.petition,
		Progress:      s.petition.Progress(len(list)),
		CreatorURL:    s.petition.CreatorProfileURL(),
		ShareURL:      s.ShareURL(),
		Signatures:    list,
		Loading:       !s.Loaded(),
		SiteKey:       s.cfg.SiteKey,
		RevertSeconds: int(s.cfg.RevertAfter / time.Second),
	}
	if v != nil {
		page.Form = v.Form.View()
		page.CaptchaResets = v.Widget.Resets()
	}
	return page
}
