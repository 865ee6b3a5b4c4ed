package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"

	"github.com/ohmynofan/provider-checkin-bot/internal/platform/logger"
	"github.com/ohmynofan/provider-checkin-bot/pkg/utils"
)

// Cookie names the WAF issues once its challenge resolves. A bypass that
// yields none of these produced nothing usable.
var requiredWafCookies = []string{"acw_tc", "acw_sc__v2", "cdn_sec_tc"}

const cookiePollInterval = 500 * time.Millisecond

var errNoWafCookies = errors.New("challenge did not yield any waf cookies")

type Service struct {
	ChallengeWait time.Duration
	CloseTimeout  time.Duration
	Attempts      int
	RetryGap      time.Duration

	// attempt is swapped out in tests; production always runs attemptBypass.
	attempt func(ctx context.Context, loginURL string) (map[string]string, error)
	reaper  ProcessReaper
	log     *logger.ClassLogger
}

func NewService(challengeWait, closeTimeout time.Duration, attempts int, retryGap time.Duration) *Service {
	if attempts <= 0 {
		attempts = 2
	}
	s := &Service{
		ChallengeWait: challengeWait,
		CloseTimeout:  closeTimeout,
		Attempts:      attempts,
		RetryGap:      retryGap,
		reaper:        NewProcessReaper(),
	}
	s.attempt = s.attemptBypass
	s.log = logger.NewLogger(s, nil)
	return s
}

// GetWafCookies runs the full bypass sequence, retrying the whole thing up
// to Attempts times with RetryGap between attempts.
func (s *Service) GetWafCookies(ctx context.Context, loginURL, accountName string) (map[string]string, error) {
	var lastErr error
	for attempt := 1; attempt <= s.Attempts; attempt++ {
		s.log.JustLog(fmt.Sprintf("WAF bypass attempt %d/%d for %s (%s)", attempt, s.Attempts, accountName, loginURL))

		cookies, err := s.attempt(ctx, loginURL)
		if err == nil {
			s.log.JustLog(fmt.Sprintf("WAF bypass succeeded for %s with %d cookies", accountName, len(cookies)))
			return cookies, nil
		}
		lastErr = err
		s.log.JustLog(fmt.Sprintf("WAF bypass attempt %d failed for %s: %v", attempt, accountName, err))

		if attempt < s.Attempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.RetryGap):
			}
		}
	}
	return nil, fmt.Errorf("waf bypass failed after %d attempts: %w", s.Attempts, lastErr)
}

func (s *Service) attemptBypass(ctx context.Context, loginURL string) (map[string]string, error) {
	suffix, err := utils.GenerateRandomHex(6)
	if err != nil {
		return nil, err
	}
	profileDir, err := os.MkdirTemp("", "waf-profile-"+suffix+"-")
	if err != nil {
		return nil, fmt.Errorf("failed to create profile dir: %w", err)
	}

	l := launcher.New().
		Headless(true).
		Leakless(true).
		UserDataDir(profileDir)

	controlURL, err := l.Launch()
	if err != nil {
		s.removeProfileDir(profileDir)
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		l.Kill()
		s.removeProfileDir(profileDir)
		return nil, fmt.Errorf("failed to connect browser: %w", err)
	}

	// Teardown runs whether the attempt succeeded, failed, or was aborted
	// mid-navigation; it must never rely on normal control flow above.
	defer s.cleanup(l, b, profileDir)

	page, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("failed to open page: %w", err)
	}

	if err := page.Timeout(s.ChallengeWait).Navigate(loginURL); err != nil {
		return nil, fmt.Errorf("failed to navigate to login url: %w", err)
	}

	cookies, err := s.waitForWafCookies(ctx, page)
	if err != nil {
		return nil, err
	}
	return cookies, nil
}

// waitForWafCookies polls the cookie jar until a required WAF cookie shows up
// or the bounded wait expires. The final jar snapshot is still checked once
// after expiry since the challenge may resolve right at the deadline.
func (s *Service) waitForWafCookies(ctx context.Context, page *rod.Page) (map[string]string, error) {
	deadline := time.Now().Add(s.ChallengeWait)
	for {
		cookies := s.snapshotCookies(page)
		if hasRequiredWafCookie(cookies) {
			return cookies, nil
		}

		if time.Now().After(deadline) {
			if len(cookies) == 0 {
				return nil, errNoWafCookies
			}
			return nil, fmt.Errorf("challenge unresolved after %s: no required waf cookie present", s.ChallengeWait)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(cookiePollInterval):
		}
	}
}

func (s *Service) snapshotCookies(page *rod.Page) map[string]string {
	raw, err := page.Cookies(nil)
	if err != nil {
		return nil
	}
	cookies := make(map[string]string, len(raw))
	for _, c := range raw {
		cookies[c.Name] = c.Value
	}
	return cookies
}

func hasRequiredWafCookie(cookies map[string]string) bool {
	for _, name := range requiredWafCookies {
		if _, ok := cookies[name]; ok {
			return true
		}
	}
	return false
}

// cleanup closes the browser with a bounded wait, kills the launcher process
// and deletes the temp profile, falling back to a force-kill when file
// handles keep the directory alive. Failures are logged, never escalated.
func (s *Service) cleanup(l *launcher.Launcher, b *rod.Browser, profileDir string) {
	closed := make(chan struct{})
	go func() {
		if err := b.Close(); err != nil {
			s.log.JustLog(fmt.Sprintf("Warning: browser close reported: %v", err))
		}
		close(closed)
	}()

	select {
	case <-closed:
	case <-time.After(s.CloseTimeout):
		s.log.JustLog(fmt.Sprintf("Warning: browser close timed out after %s", s.CloseTimeout))
	}

	l.Kill()
	s.removeProfileDir(profileDir)
}

func (s *Service) removeProfileDir(profileDir string) {
	if err := os.RemoveAll(profileDir); err == nil {
		return
	}

	// Directory is likely still held by a lingering browser process.
	if err := s.reaper.KillByProfileDir(profileDir); err != nil {
		s.log.JustLog(fmt.Sprintf("Warning: failed to reap browser processes for %s: %v", profileDir, err))
	}
	time.Sleep(500 * time.Millisecond)

	if err := os.RemoveAll(profileDir); err != nil {
		s.log.JustLog(fmt.Sprintf("Warning: failed to remove profile dir %s: %v", profileDir, err))
	}
}
