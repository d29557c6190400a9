package identity

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/maltedev/yellowpages-scraper/internal/browser"
	"github.com/maltedev/yellowpages-scraper/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLauncher struct {
	session  *fakeSession
	err      error
	launched []browser.LaunchOptions
}

func (f *fakeLauncher) Launch(ctx context.Context, opts browser.LaunchOptions) (browser.Session, error) {
	f.launched = append(f.launched, opts)
	if f.err != nil {
		return nil, f.err
	}
	return f.session, nil
}

type fakeSession struct {
	calls     []string
	failOn    string
	failErr   error
	cookies   []session.Cookie
	userAgent string
	html      string
	closed    int
}

func (f *fakeSession) step(name string) error {
	f.calls = append(f.calls, name)
	if f.failOn == name {
		return f.failErr
	}
	return nil
}

func (f *fakeSession) Goto(url string, timeout time.Duration) error {
	return f.step("goto " + url)
}

func (f *fakeSession) PressKey(key string) error {
	return f.step("press " + key)
}

func (f *fakeSession) ClickAt(selector string, x, y float64, timeout time.Duration) error {
	return f.step(fmt.Sprintf("click %s %.0f,%.0f", selector, x, y))
}

func (f *fakeSession) Wheel(deltaX, deltaY float64) error {
	f.calls = append(f.calls, "wheel")
	if deltaY < 400 || deltaY > 900 {
		return fmt.Errorf("scroll distance %v out of range", deltaY)
	}
	return nil
}

func (f *fakeSession) Cookies() ([]session.Cookie, error) {
	return f.cookies, nil
}

func (f *fakeSession) UserAgent() (string, error) {
	if f.userAgent == "" {
		return "", errors.New("evaluate failed")
	}
	return f.userAgent, nil
}

func (f *fakeSession) Content() (string, error) {
	if err := f.step("content"); err != nil {
		return "", err
	}
	return f.html, nil
}

func (f *fakeSession) Close() error {
	f.closed++
	return nil
}

type recordedSleep struct {
	pauses []time.Duration
}

func (r *recordedSleep) sleep(ctx context.Context, d time.Duration) error {
	r.pauses = append(r.pauses, d)
	return ctx.Err()
}

func newTestDeriver(l browser.Launcher, sleeper *recordedSleep) *Deriver {
	return NewDeriver(l, DefaultOptions(),
		WithRand(rand.New(rand.NewSource(42))),
		WithSleep(sleeper.sleep),
	)
}

const searchURL = "https://www.yellowpages.com/search?search_terms=chicken&geo_location_terms=Los+Angeles%2C+CA"

func TestDeriveWithTargetAndContent(t *testing.T) {
	sess := &fakeSession{
		cookies: []session.Cookie{
			{Name: "vrid", Value: "abc"},
			{Name: "bm_sz", Value: "xyz", Domain: ".yellowpages.com", Path: "/"},
		},
		userAgent: "Mozilla/5.0 HeadlessChrome/124",
		html:      "<html>results</html>",
	}
	launcher := &fakeLauncher{session: sess}
	sleeper := &recordedSleep{}

	id := newTestDeriver(launcher, sleeper).Derive(context.Background(), searchURL, true)

	assert.Equal(t, []string{
		"goto " + DefaultBaseURL,
		"press End",
		"press Home",
		"click header 10,10",
		"goto " + searchURL,
		"wheel",
		"content",
	}, sess.calls)
	assert.Equal(t, 1, sess.closed)

	assert.Equal(t, "<html>results</html>", id.HTML)
	assert.Equal(t, sess.cookies, id.Cookies)
	assert.Equal(t, "vrid=abc; bm_sz=xyz", id.Headers.Get(session.HeaderCookie))
	assert.Equal(t, "Mozilla/5.0 HeadlessChrome/124", id.Headers.Get(session.HeaderUserAgent))
	assert.Equal(t, "https://www.yellowpages.com/", id.Headers.Get(session.HeaderReferer))

	require.Len(t, sleeper.pauses, 6)
	ranges := []span{settlePause, shortPause, shortPause, shortPause, arrivalPause, shortPause}
	for i, r := range ranges {
		assert.GreaterOrEqual(t, sleeper.pauses[i], r.min, "pause %d", i)
		assert.LessOrEqual(t, sleeper.pauses[i], r.max, "pause %d", i)
	}
}

func TestDeriveLaunchOptions(t *testing.T) {
	launcher := &fakeLauncher{session: &fakeSession{userAgent: "ua"}}
	newTestDeriver(launcher, &recordedSleep{}).Derive(context.Background(), "", false)

	require.Len(t, launcher.launched, 1)
	opts := launcher.launched[0]
	assert.True(t, opts.Headless)
	assert.Equal(t, "en-US", opts.Locale)
	assert.Contains(t, DefaultUserAgents, opts.UserAgent)
	assert.Equal(t, browser.DefaultLaunchArgs, opts.Args)
	assert.GreaterOrEqual(t, opts.Viewport.Width, 1280)
	assert.LessOrEqual(t, opts.Viewport.Width, 1920)
	assert.GreaterOrEqual(t, opts.Viewport.Height, 720)
	assert.LessOrEqual(t, opts.Viewport.Height, 1080)
}

func TestDeriveIsReproducibleWithSeed(t *testing.T) {
	run := func() (browser.LaunchOptions, []time.Duration) {
		launcher := &fakeLauncher{session: &fakeSession{userAgent: "ua"}}
		sleeper := &recordedSleep{}
		newTestDeriver(launcher, sleeper).Derive(context.Background(), searchURL, false)
		return launcher.launched[0], sleeper.pauses
	}

	opts1, pauses1 := run()
	opts2, pauses2 := run()
	assert.Equal(t, opts1, opts2)
	assert.Equal(t, pauses1, pauses2)
}

func TestDeriveWithoutTargetSkipsNavigation(t *testing.T) {
	sess := &fakeSession{userAgent: "ua", cookies: []session.Cookie{{Name: "a", Value: "1"}}}
	id := newTestDeriver(&fakeLauncher{session: sess}, &recordedSleep{}).Derive(context.Background(), "", true)

	assert.NotContains(t, sess.calls, "content")
	assert.Len(t, sess.calls, 4)
	assert.Empty(t, id.HTML)
	assert.Equal(t, DefaultBaseURL, id.Headers.Get(session.HeaderReferer))
	assert.Equal(t, "a=1", id.Headers.Get(session.HeaderCookie))
}

func TestDeriveTimeoutDegradesToPartialIdentity(t *testing.T) {
	tests := []struct {
		name   string
		failOn string
	}{
		{"Base navigation", "goto " + DefaultBaseURL},
		{"Header click", "click header 10,10"},
		{"Target navigation", "goto " + searchURL},
		{"Content capture", "content"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := &fakeSession{
				failOn:    tt.failOn,
				failErr:   fmt.Errorf("%w: deadline", browser.ErrNavigationTimeout),
				cookies:   []session.Cookie{{Name: "partial", Value: "1"}},
				userAgent: "ua-real",
				html:      "<html></html>",
			}

			id := newTestDeriver(&fakeLauncher{session: sess}, &recordedSleep{}).Derive(context.Background(), searchURL, true)

			assert.Empty(t, id.HTML)
			assert.Equal(t, "partial=1", id.Headers.Get(session.HeaderCookie))
			assert.Equal(t, "ua-real", id.Headers.Get(session.HeaderUserAgent))
			assert.Equal(t, 1, sess.closed)
			assert.Equal(t, tt.failOn, sess.calls[len(sess.calls)-1])
		})
	}
}

func TestDeriveFallsBackToRequestedUserAgent(t *testing.T) {
	launcher := &fakeLauncher{session: &fakeSession{}}
	id := newTestDeriver(launcher, &recordedSleep{}).Derive(context.Background(), "", false)

	assert.Equal(t, launcher.launched[0].UserAgent, id.Headers.Get(session.HeaderUserAgent))
}

func TestDeriveLaunchFailure(t *testing.T) {
	launcher := &fakeLauncher{err: errors.New("playwright driver missing")}
	id := newTestDeriver(launcher, &recordedSleep{}).Derive(context.Background(), searchURL, true)

	assert.Empty(t, id.Cookies)
	assert.Empty(t, id.HTML)
	assert.False(t, id.Headers.Has(session.HeaderCookie))
	assert.Equal(t, launcher.launched[0].UserAgent, id.Headers.Get(session.HeaderUserAgent))
	assert.Equal(t, "https://www.yellowpages.com/", id.Headers.Get(session.HeaderReferer))
}

func TestDeriveCancelledContextStillReleasesBrowser(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sess := &fakeSession{userAgent: "ua", cookies: []session.Cookie{{Name: "a", Value: "1"}}}
	id := newTestDeriver(&fakeLauncher{session: sess}, &recordedSleep{}).Derive(ctx, searchURL, true)

	assert.Equal(t, 1, sess.closed)
	assert.Equal(t, []string{"goto " + DefaultBaseURL}, sess.calls)
	assert.Equal(t, "a=1", id.Headers.Get(session.HeaderCookie))
}
