package credential

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func writeCreds(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "creds.json")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	return path
}

func TestLoadBase64TakesPrecedence(t *testing.T) {
	blob := base64.StdEncoding.EncodeToString([]byte(`{"access_token":"from-b64"}`))
	path := writeCreds(t, `{"access_token":"from-file"}`)

	s, err := Load(blob, path, "")
	require.NoError(t, err)
	require.Equal(t, "from-b64", s.Get("access_token"))
}

func TestLoadMalformed(t *testing.T) {
	_, err := Load("not base64!!", "", "")
	require.ErrorIs(t, err, ErrMalformed)

	path := writeCreds(t, `{"broken`)
	_, err = Load("", path, "")
	require.ErrorIs(t, err, ErrMalformed)
}

func TestIsExpired(t *testing.T) {
	fresh := fmt.Sprintf(`{"access_token":"t","expiry_date":%d}`, time.Now().Add(time.Hour).Unix())
	s, err := Load("", writeCreds(t, fresh), "")
	require.NoError(t, err)
	require.False(t, s.IsExpired())

	// Inside the 5 minute skew window counts as expired.
	near := fmt.Sprintf(`{"access_token":"t","expiry_date":%d}`, time.Now().Add(2*time.Minute).Unix())
	require.NoError(t, s.Replace([]byte(near)))
	require.True(t, s.IsExpired())

	rfc := fmt.Sprintf(`{"accessToken":"t","expiresAt":%q}`, time.Now().Add(-time.Minute).Format(time.RFC3339))
	require.NoError(t, s.Replace([]byte(rfc)))
	require.True(t, s.IsExpired())

	// No expiry field means never expired.
	require.NoError(t, s.Replace([]byte(`{"access_token":"t"}`)))
	require.False(t, s.IsExpired())
}

func TestRefreshNoOpWhenFresh(t *testing.T) {
	doc := fmt.Sprintf(`{"access_token":"t","expiry_date":%d}`, time.Now().Add(time.Hour).Unix())
	s, err := Load("", writeCreds(t, doc), "")
	require.NoError(t, err)

	called := 0
	err = s.Refresh(false, func([]byte) ([]byte, error) {
		called++
		return nil, nil
	})
	require.NoError(t, err)
	require.Zero(t, called)
}

func TestRefreshSingleFlight(t *testing.T) {
	doc := fmt.Sprintf(`{"access_token":"old","expiry_date":%d}`, time.Now().Add(-time.Hour).Unix())
	path := writeCreds(t, doc)
	s, err := Load("", path, "")
	require.NoError(t, err)

	var calls atomic.Int32
	fresh := fmt.Sprintf(`{"access_token":"new","expiry_date":%d}`, time.Now().Add(time.Hour).Unix())
	refresh := func([]byte) ([]byte, error) {
		calls.Add(1)
		time.Sleep(50 * time.Millisecond)
		return []byte(fresh), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, s.Refresh(false, refresh))
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), calls.Load())
	require.Equal(t, "new", s.Get("access_token"))

	// The refreshed document was persisted.
	onDisk, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "new", gjson.GetBytes(onDisk, "access_token").String())
}

func TestReplaceRejectsInvalidJSON(t *testing.T) {
	s, err := Load("", writeCreds(t, `{"access_token":"t"}`), "")
	require.NoError(t, err)
	require.ErrorIs(t, s.Replace([]byte(`nope{`)), ErrMalformed)
	require.Equal(t, "t", s.Get("access_token"))
}
