package security

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/banxian/internal/log"
)

func publicLookup(_ string) ([]net.IP, error) {
	return []net.IP{net.ParseIP("93.184.216.34")}, nil
}

func TestURLGuard_ValidateURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		url    string
		lookup func(string) ([]net.IP, error)
		ok     bool
	}{
		{"public https", "https://example.com/article", publicLookup, true},
		{"public http", "http://example.com", publicLookup, true},
		{"file scheme", "file:///etc/passwd", publicLookup, false},
		{"ftp scheme", "ftp://example.com", publicLookup, false},
		{"localhost", "http://localhost:8080/admin", publicLookup, false},
		{"loopback literal", "http://127.0.0.1/", publicLookup, false},
		{"aws metadata", "http://169.254.169.254/latest/meta-data/", publicLookup, false},
		{"gcp metadata", "http://metadata.google.internal/", publicLookup, false},
		{"missing host", "https:///path", publicLookup, false},
		{
			"resolves to rfc1918",
			"https://internal.example.com",
			func(string) ([]net.IP, error) {
				return []net.IP{net.ParseIP("192.168.1.10")}, nil
			},
			false,
		},
		{
			"resolves to link-local",
			"https://sneaky.example.com",
			func(string) ([]net.IP, error) {
				return []net.IP{net.ParseIP("169.254.1.1")}, nil
			},
			false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			g := NewURLGuard(log.NewNop(), WithLookupIP(tc.lookup))
			err := g.ValidateURL(tc.url)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestURLGuard_ResolveFailure(t *testing.T) {
	t.Parallel()

	g := NewURLGuard(log.NewNop(), WithLookupIP(func(string) ([]net.IP, error) {
		return nil, &net.DNSError{Err: "no such host", Name: "nope.invalid"}
	}))
	assert.Error(t, g.ValidateURL("https://nope.invalid"))
}

func TestIsPrivateIP(t *testing.T) {
	t.Parallel()

	private := []string{"10.1.2.3", "172.16.0.1", "192.168.0.1", "127.0.0.1", "169.254.169.254", "::1", "fc00::1", "fd12::1", "fe80::1"}
	for _, s := range private {
		assert.True(t, isPrivateIP(net.ParseIP(s)), s)
	}

	public := []string{"93.184.216.34", "8.8.8.8", "2606:4700::1111"}
	for _, s := range public {
		assert.False(t, isPrivateIP(net.ParseIP(s)), s)
	}
}

func TestURLGuard_MaxResponseSize(t *testing.T) {
	t.Parallel()

	g := NewURLGuard(log.NewNop())
	assert.Equal(t, int64(DefaultMaxResponseSize), g.MaxResponseSize())

	g = NewURLGuard(log.NewNop(), WithMaxResponseSize(1024))
	assert.Equal(t, int64(1024), g.MaxResponseSize())
}

func TestURLGuard_SafeClientLimitsRedirects(t *testing.T) {
	t.Parallel()

	g := NewURLGuard(log.NewNop(), WithLookupIP(publicLookup))
	client := g.CreateSafeHTTPClient()
	require.NotNil(t, client.CheckRedirect)
}
