package browser_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"homespark/harvester/internal/browser"
	"homespark/harvester/internal/browser/browsertest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const listingURL = "https://krisha.kz/a/show/1"

func newSite() *browsertest.Site {
	return browsertest.NewSite().Serve(listingURL, `<html><body><div class="offer__price">1 000 〒</div></body></html>`)
}

func visit(ctx context.Context, page browser.Page) error {
	return page.Navigate(ctx, listingURL)
}

func TestSessionManager_SharedReusesBrowser(t *testing.T) {
	launcher := browsertest.NewLauncher(newSite())
	m := browser.NewSessionManager("krisha/buy", launcher, browser.ModeShared, 0)
	assert.Equal(t, browser.StateUninitialized, m.State())

	require.NoError(t, m.Do(context.Background(), visit))
	require.NoError(t, m.Do(context.Background(), visit))

	assert.Equal(t, 1, launcher.Launches())
	assert.Equal(t, browser.StateReady, m.State())
	assert.Equal(t, 0, m.Recreations())
}

func TestSessionManager_RecreatesAfterFailure(t *testing.T) {
	launcher := browsertest.NewLauncher(newSite())
	m := browser.NewSessionManager("krisha/buy", launcher, browser.ModeShared, 0)
	var recreated []string
	m.OnRecreate = func(targetID string) { recreated = append(recreated, targetID) }

	boom := errors.New("target closed")
	err := m.Do(context.Background(), func(ctx context.Context, page browser.Page) error { return boom })
	assert.ErrorIs(t, err, boom)

	browsers := launcher.Browsers()
	require.Len(t, browsers, 2)
	assert.True(t, browsers[0].Closed(), "the failed browser is closed")
	assert.False(t, browsers[1].Closed())
	assert.Equal(t, browser.StateReady, m.State())
	assert.Equal(t, 1, m.Recreations())
	assert.Equal(t, []string{"krisha/buy"}, recreated)

	// The next job runs on the replacement.
	require.NoError(t, m.Do(context.Background(), visit))
	assert.Equal(t, 2, launcher.Launches())
}

func TestSessionManager_FailedRelaunchStaysRecreating(t *testing.T) {
	launcher := browsertest.NewLauncher(newSite())
	m := browser.NewSessionManager("etagi/buy", launcher, browser.ModeShared, 0)

	require.NoError(t, m.Do(context.Background(), visit))

	launcher.FailLaunches(errors.New("chromium crashed"))
	err := m.Do(context.Background(), func(ctx context.Context, page browser.Page) error {
		return errors.New("navigation timeout")
	})
	require.Error(t, err)
	assert.Equal(t, browser.StateRecreating, m.State())

	err = m.Do(context.Background(), visit)
	assert.ErrorContains(t, err, "chromium crashed")
	assert.Equal(t, browser.StateRecreating, m.State(), "never falls back to uninitialized")

	launcher.FailLaunches(nil)
	require.NoError(t, m.Do(context.Background(), visit))
	assert.Equal(t, browser.StateReady, m.State())
}

func TestSessionManager_FirstLaunchFailure(t *testing.T) {
	launcher := browsertest.NewLauncher(newSite())
	launcher.FailLaunches(errors.New("no chromium"))
	m := browser.NewSessionManager("kn/rent", launcher, browser.ModeShared, 0)

	require.Error(t, m.Do(context.Background(), visit))
	assert.Equal(t, browser.StateRecreating, m.State())
}

func TestSessionManager_ConcurrentAcquireLaunchesOnce(t *testing.T) {
	launcher := browsertest.NewLauncher(newSite())
	m := browser.NewSessionManager("krisha/daily", launcher, browser.ModeShared, 0)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, m.Do(context.Background(), visit))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, launcher.Launches())
}

func TestSessionManager_EphemeralLaunchesPerJob(t *testing.T) {
	launcher := browsertest.NewLauncher(newSite())
	m := browser.NewSessionManager("krisha/buy", launcher, browser.ModeEphemeral, 0)

	require.NoError(t, m.Do(context.Background(), visit))
	require.Error(t, m.Do(context.Background(), func(ctx context.Context, page browser.Page) error {
		return errors.New("extract failed")
	}))

	browsers := launcher.Browsers()
	require.Len(t, browsers, 2)
	for _, b := range browsers {
		assert.True(t, b.Closed())
	}
	assert.Equal(t, 0, m.Recreations())
}

func TestSessionManager_Close(t *testing.T) {
	launcher := browsertest.NewLauncher(newSite())
	m := browser.NewSessionManager("krisha/buy", launcher, browser.ModeShared, 0)
	require.NoError(t, m.Do(context.Background(), visit))

	require.NoError(t, m.Close())
	assert.True(t, launcher.Browsers()[0].Closed())
	assert.ErrorIs(t, m.Do(context.Background(), visit), browser.ErrSessionClosed)
}

func TestDocument(t *testing.T) {
	launcher := browsertest.NewLauncher(newSite())
	m := browser.NewSessionManager("krisha/buy", launcher, browser.ModeShared, 0)

	var price string
	err := m.Do(context.Background(), func(ctx context.Context, page browser.Page) error {
		if err := page.Navigate(ctx, listingURL); err != nil {
			return err
		}
		if err := browser.AutoScroll(ctx, page); err != nil {
			return err
		}
		doc, err := browser.Document(ctx, page)
		if err != nil {
			return err
		}
		price = doc.Find("div.offer__price").Text()
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "1 000 〒", price)
}
