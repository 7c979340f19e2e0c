package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"petition/api/internal/signature"
)

// REST talks to a PostgREST-style gateway in front of the signatures table.
// Submit keeps the gateway's two-call contract: the sign_petition RPC checks
// the captcha and inserts, then a newest-first lookup by handle fetches the
// created row. If that lookup fails the submission counts as failed even
// though the row exists.
type REST struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *zap.Logger
}

func NewREST(baseURL, apiKey string, client *http.Client, logger *zap.Logger) *REST {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &REST{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  client,
		logger:  logger,
	}
}

type signPetitionParams struct {
	Handle       string  `json:"p_handle"`
	Comment      *string `json:"p_comment"`
	Location     string  `json:"p_location"`
	CaptchaToken string  `json:"p_captcha_token"`
}

type signPetitionResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func (r *REST) FetchAll(ctx context.Context) ([]signature.Signature, error) {
	query := url.Values{}
	query.Set("select", "*")
	query.Set("order", "created_at.desc")

	resp, err := r.do(ctx, http.MethodGet, "/rest/v1/signatures?"+query.Encode(), nil, nil)
	if err != nil {
		return nil, errors.Wrap(err, "fetch signatures")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp, "fetch signatures")
	}

	var list []signature.Signature
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, errors.Wrap(err, "decode signatures")
	}
	if list == nil {
		list = []signature.Signature{}
	}
	return list, nil
}

func (r *REST) Submit(ctx context.Context, sub Submission) (*signature.Signature, error) {
	body, err := json.Marshal(signPetitionParams{
		Handle:       sub.Handle,
		Comment:      sub.Comment,
		Location:     sub.Location,
		CaptchaToken: sub.CaptchaToken,
	})
	if err != nil {
		return nil, errors.Wrap(err, "encode sign_petition params")
	}

	resp, err := r.do(ctx, http.MethodPost, "/rest/v1/rpc/sign_petition", bytes.NewReader(body), nil)
	if err != nil {
		return nil, errors.Wrap(err, "call sign_petition")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp, "call sign_petition")
	}

	var result signPetitionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, errors.Wrap(err, "decode sign_petition result")
	}
	if !result.Success {
		r.logger.Info("sign_petition refused submission",
			zap.String("handle", sub.Handle),
			zap.String("reason", result.Error),
		)
		return nil, errors.Wrapf(ErrRejected, "sign_petition: %s", result.Error)
	}

	created, err := r.latestByHandle(ctx, sub.Handle)
	if err != nil {
		return nil, errors.Wrap(err, "lookup created signature")
	}
	return created, nil
}

func (r *REST) latestByHandle(ctx context.Context, h string) (*signature.Signature, error) {
	query := url.Values{}
	query.Set("select", "*")
	query.Set("handle", "eq."+h)
	query.Set("order", "created_at.desc")
	query.Set("limit", "1")

	header := http.Header{}
	header.Set("Accept", "application/vnd.pgrst.object+json")
	resp, err := r.do(ctx, http.MethodGet, "/rest/v1/signatures?"+query.Encode(), nil, header)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotAcceptable {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp, "lookup signature")
	}

	var created signature.Signature
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return nil, errors.Wrap(err, "decode signature")
	}
	return &created, nil
}

// Count issues a HEAD request with an exact count and reads the total from
// Content-Range ("0-24/3573" or "*/0").
func (r *REST) Count(ctx context.Context) (int, error) {
	header := http.Header{}
	header.Set("Prefer", "count=exact")
	resp, err := r.do(ctx, http.MethodHead, "/rest/v1/signatures?select=*", nil, header)
	if err != nil {
		return 0, errors.Wrap(err, "count signatures")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return 0, statusError(resp, "count signatures")
	}
	return parseContentRangeTotal(resp.Header.Get("Content-Range"))
}

func (r *REST) Ping(ctx context.Context) error {
	resp, err := r.do(ctx, http.MethodHead, "/rest/v1/signatures?select=id&limit=1", nil, nil)
	if err != nil {
		return errors.Wrap(err, "ping gateway")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return statusError(resp, "ping gateway")
	}
	return nil
}

func (r *REST) do(ctx context.Context, method, path string, body io.Reader, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	for key, values := range header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if r.apiKey != "" {
		req.Header.Set("apikey", r.apiKey)
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}
	return r.client.Do(req)
}

func statusError(resp *http.Response, op string) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return errors.Errorf("%s: unexpected status %d: %s", op, resp.StatusCode, strings.TrimSpace(string(snippet)))
}

func parseContentRangeTotal(value string) (int, error) {
	slash := strings.LastIndex(value, "/")
	if slash < 0 {
		return 0, errors.Errorf("malformed content-range %q", value)
	}
	total, err := strconv.Atoi(value[slash+1:])
	if err != nil {
		return 0, errors.Errorf("malformed content-range %q", value)
	}
	return total, nil
}
