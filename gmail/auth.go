package gmail

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/bassamadnan/mailpilot/logger"
)

// Scopes covers reading and relabeling mail, sending replies and creating
// calendar events.
var Scopes = []string{
	gmail.GmailModifyScope,
	gmail.GmailSendScope,
	calendar.CalendarEventsScope,
}

// OAuthConfig builds the OAuth client. When credentialsFile is set it must
// exist and takes precedence over the explicit client values.
func OAuthConfig(clientID, clientSecret, redirectURL, credentialsFile string) (*oauth2.Config, error) {
	if credentialsFile != "" {
		b, err := os.ReadFile(credentialsFile)
		if err != nil {
			return nil, fmt.Errorf("unable to read client secret file: %w", err)
		}
		cfg, err := google.ConfigFromJSON(b, Scopes...)
		if err != nil {
			return nil, fmt.Errorf("unable to parse client secret file to config: %w", err)
		}
		return cfg, nil
	}
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       Scopes,
		Endpoint:     google.Endpoint,
	}, nil
}

// Prompter is the operator-facing side of the authorization flow.
type Prompter interface {
	// RequestAuthorizationCode shows authURL and returns the code the
	// operator obtained from it.
	RequestAuthorizationCode(authURL string) (string, error)
	// Confirm asks a yes/no question.
	Confirm(question string) (bool, error)
}

// TerminalPrompter prompts on a terminal.
type TerminalPrompter struct {
	In  io.Reader
	Out io.Writer

	once   sync.Once
	reader *bufio.Reader
}

func (p *TerminalPrompter) readLine() (string, error) {
	p.once.Do(func() { p.reader = bufio.NewReader(p.In) })
	line, err := p.reader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (p *TerminalPrompter) RequestAuthorizationCode(authURL string) (string, error) {
	fmt.Fprintf(p.Out, "Go to the following link in your browser then type the "+
		"authorization code: \n%v\n", authURL)
	code, err := p.readLine()
	if err != nil {
		return "", fmt.Errorf("unable to read authorization code: %w", err)
	}
	if code == "" {
		return "", errors.New("empty authorization code")
	}
	return code, nil
}

func (p *TerminalPrompter) Confirm(question string) (bool, error) {
	fmt.Fprintf(p.Out, "%s (yes/no): ", question)
	answer, err := p.readLine()
	if err != nil {
		return false, err
	}
	return strings.EqualFold(answer, "yes") || strings.EqualFold(answer, "y"), nil
}

// TokenCheck makes one authenticated call with client and reports whether
// the API accepted it.
type TokenCheck func(ctx context.Context, client *http.Client) error

// ProfileCheck validates a token with users.getProfile.
func ProfileCheck(log *zap.Logger, opts ...option.ClientOption) TokenCheck {
	return func(ctx context.Context, client *http.Client) error {
		all := append([]option.ClientOption{option.WithHTTPClient(client)}, opts...)
		c, err := NewClient(ctx, log, all...)
		if err != nil {
			return err
		}
		_, err = c.Profile(ctx)
		return err
	}
}

// isAuthError reports a revoked or expired grant: a 401 from the API or a
// failed refresh at the token endpoint.
func isAuthError(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusUnauthorized
	}
	var retrieveErr *oauth2.RetrieveError
	return errors.As(err, &retrieveErr)
}

// Authorize returns an HTTP client carrying the stored token, running the
// authorization-code exchange when there is none. With confirmSwitch the
// operator may discard an existing token. A stored token that check rejects
// as unauthorized is discarded too; a nil check skips validation. Refreshed
// tokens are saved back.
func Authorize(ctx context.Context, cfg *oauth2.Config, tokens TokenStore, prompter Prompter, confirmSwitch bool, check TokenCheck, log *zap.Logger) (*http.Client, error) {
	log = logger.OrDefault(log)

	tok, err := tokens.Load()
	switch {
	case errors.Is(err, ErrNoToken):
		tok = nil
	case err != nil:
		log.Warn("stored token is unreadable, re-authorizing", zap.Error(err))
		if err := tokens.Delete(); err != nil {
			return nil, fmt.Errorf("removing unreadable token: %w", err)
		}
		tok = nil
	}

	if tok != nil && confirmSwitch {
		switchAccount, err := prompter.Confirm("A token already exists. Switch account?")
		if err != nil {
			return nil, fmt.Errorf("reading answer: %w", err)
		}
		if switchAccount {
			if err := tokens.Delete(); err != nil {
				return nil, fmt.Errorf("removing token: %w", err)
			}
			log.Info("existing token deleted")
			tok = nil
		}
	}

	if tok != nil && check != nil {
		err := check(ctx, tokenClient(ctx, cfg, tokens, tok, log))
		switch {
		case isAuthError(err):
			log.Warn("stored token was rejected, re-authorizing", zap.Error(err))
			if err := tokens.Delete(); err != nil {
				return nil, fmt.Errorf("removing rejected token: %w", err)
			}
			tok = nil
		case err != nil:
			return nil, fmt.Errorf("validating stored token: %w", err)
		}
	}

	if tok == nil {
		authURL := cfg.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
		code, err := prompter.RequestAuthorizationCode(authURL)
		if err != nil {
			return nil, err
		}
		tok, err = cfg.Exchange(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("unable to retrieve token from web: %w", err)
		}
		if err := tokens.Save(tok); err != nil {
			return nil, err
		}
		log.Info("oauth token saved")
	}

	return tokenClient(ctx, cfg, tokens, tok, log), nil
}

func tokenClient(ctx context.Context, cfg *oauth2.Config, tokens TokenStore, tok *oauth2.Token, log *zap.Logger) *http.Client {
	src := &savingTokenSource{
		base:   cfg.TokenSource(ctx, tok),
		tokens: tokens,
		last:   tok.AccessToken,
		log:    log,
	}
	return oauth2.NewClient(ctx, src)
}

// savingTokenSource writes the token back whenever a refresh changes it.
type savingTokenSource struct {
	base   oauth2.TokenSource
	tokens TokenStore
	log    *zap.Logger

	mu   sync.Mutex
	last string
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		s.last = tok.AccessToken
		if err := s.tokens.Save(tok); err != nil {
			s.log.Warn("unable to persist refreshed token", zap.Error(err))
		}
	}
	return tok, nil
}
