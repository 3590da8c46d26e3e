package registry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDiscoverer serves a fixed instance list and forwards watch updates.
type fakeDiscoverer struct {
	instances []ServiceInfo
	err       error
	calls     int
	updates   chan []ServiceInfo
}

func (f *fakeDiscoverer) Discover(ctx context.Context, name string) ([]ServiceInfo, error) {
	f.calls++
	return f.instances, f.err
}

func (f *fakeDiscoverer) Watch(ctx context.Context, name string) (<-chan []ServiceInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.updates, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func instance(id, endpoint string, meta map[string]string) ServiceInfo {
	return ServiceInfo{Name: "opencti", InstanceID: id, Endpoint: endpoint, Metadata: meta}
}

func TestSelectEndpoint(t *testing.T) {
	tests := []struct {
		name      string
		instances []ServiceInfo
		want      string
	}{
		{"none", nil, ""},
		{"lowest instance id wins", []ServiceInfo{
			instance("b", "http://b/graphql", nil),
			instance("a", "http://a/graphql", nil),
		}, "http://a/graphql"},
		{"draining skipped", []ServiceInfo{
			instance("a", "http://a/graphql", map[string]string{"status": "draining"}),
			instance("b", "http://b/graphql", map[string]string{"status": "ready"}),
		}, "http://b/graphql"},
		{"missing endpoint skipped", []ServiceInfo{
			instance("a", "", nil),
			instance("c", "http://c/graphql", nil),
		}, "http://c/graphql"},
		{"all unhealthy", []ServiceInfo{
			instance("a", "", nil),
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SelectEndpoint(tt.instances))
		})
	}
}

func TestResolver_Endpoint(t *testing.T) {
	_, err := NewResolver(nil, "opencti", nil)
	assert.Error(t, err)
	_, err = NewResolver(&fakeDiscoverer{}, "", nil)
	assert.Error(t, err)

	t.Run("discovers once then caches", func(t *testing.T) {
		src := &fakeDiscoverer{instances: []ServiceInfo{instance("a", "http://a/graphql", nil)}}
		r, err := NewResolver(src, "opencti", quietLogger())
		require.NoError(t, err)

		for i := 0; i < 3; i++ {
			ep, err := r.Endpoint(context.Background())
			require.NoError(t, err)
			assert.Equal(t, "http://a/graphql", ep)
		}
		assert.Equal(t, 1, src.calls)
	})

	t.Run("no instances", func(t *testing.T) {
		r, err := NewResolver(&fakeDiscoverer{}, "opencti", quietLogger())
		require.NoError(t, err)

		_, err = r.Endpoint(context.Background())
		assert.ErrorIs(t, err, ErrNoInstances)
	})

	t.Run("discovery failure", func(t *testing.T) {
		boom := errors.New("etcd unavailable")
		r, err := NewResolver(&fakeDiscoverer{err: boom}, "opencti", quietLogger())
		require.NoError(t, err)

		_, err = r.Endpoint(context.Background())
		assert.ErrorIs(t, err, boom)
	})
}

func TestResolver_Run(t *testing.T) {
	src := &fakeDiscoverer{updates: make(chan []ServiceInfo)}
	r, err := NewResolver(src, "opencti", quietLogger())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	src.updates <- []ServiceInfo{instance("b", "http://b/graphql", nil)}
	src.updates <- []ServiceInfo{
		instance("b", "http://b/graphql", nil),
		instance("a", "http://a/graphql", nil),
	}
	// unbuffered sends complete only once Run has received them; the next
	// send proves the previous update was applied
	src.updates <- []ServiceInfo{instance("a", "http://a/graphql", nil)}

	ep, err := r.Endpoint(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "http://a/graphql", ep)
	assert.Zero(t, src.calls, "watched endpoint needs no discovery")

	src.updates <- nil
	src.instances = []ServiceInfo{instance("z", "http://z/graphql", nil)}
	close(src.updates)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("resolver did not stop")
	}

	ep, err = r.Endpoint(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "http://z/graphql", ep, "losing every instance forces rediscovery")
}

func TestResolver_RunWatchError(t *testing.T) {
	r, err := NewResolver(&fakeDiscoverer{err: errors.New("no etcd")}, "opencti", quietLogger())
	require.NoError(t, err)
	assert.Error(t, r.Run(context.Background()))
}

func TestParseEndpoints(t *testing.T) {
	assert.Nil(t, ParseEndpoints(""))
	assert.Equal(t, []string{"a:2379", "b:2379"}, ParseEndpoints(" a:2379, ,b:2379 "))
}

func TestServicePrefix(t *testing.T) {
	assert.Equal(t, "/graphsync/graphql/opencti/", ServicePrefix("", "opencti"))
	assert.Equal(t, "/prod/graphql/opencti/", ServicePrefix("prod", "opencti"))
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(Config{}, nil)
	assert.Error(t, err)

	_, err = NewClient(Config{
		Endpoints: []string{"localhost:2379"},
		TLS:       &TLSConfig{Enabled: true},
	}, nil)
	assert.ErrorContains(t, err, "cert file")
}

func TestNewClientFromEnv_Unset(t *testing.T) {
	t.Setenv(EnvEndpoints, "")
	c, err := NewClientFromEnv(nil)
	assert.NoError(t, err)
	assert.Nil(t, c)
}

func TestClientTLS(t *testing.T) {
	cfg, err := clientTLS(nil)
	assert.NoError(t, err)
	assert.Nil(t, cfg)

	cfg, err = clientTLS(&TLSConfig{Enabled: false, CertFile: "x"})
	assert.NoError(t, err)
	assert.Nil(t, cfg)

	_, err = clientTLS(&TLSConfig{Enabled: true, CertFile: "c"})
	assert.ErrorContains(t, err, "key file")

	_, err = clientTLS(&TLSConfig{Enabled: true, CertFile: "c", KeyFile: "k"})
	assert.ErrorContains(t, err, "CA file")

	dir := t.TempDir()
	missing := filepath.Join(dir, "missing.pem")
	_, err = clientTLS(&TLSConfig{Enabled: true, CertFile: missing, KeyFile: missing, CAFile: missing})
	assert.ErrorContains(t, err, "client certificate")

	garbage := filepath.Join(dir, "garbage.pem")
	require.NoError(t, os.WriteFile(garbage, []byte("not pem"), 0o600))
	_, err = clientTLS(&TLSConfig{Enabled: true, CertFile: garbage, KeyFile: garbage, CAFile: garbage})
	assert.Error(t, err)
}

func TestServiceInfo_Healthy(t *testing.T) {
	assert.True(t, instance("a", "http://a", nil).Healthy())
	assert.True(t, instance("a", "http://a", map[string]string{"status": "ready"}).Healthy())
	assert.False(t, instance("a", "http://a", map[string]string{"status": "draining"}).Healthy())
	assert.False(t, instance("a", "", nil).Healthy())
}
