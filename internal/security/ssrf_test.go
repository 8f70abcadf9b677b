package security

import (
	"context"
	"net"
	"testing"
)

type staticResolver map[string][]string

func (r staticResolver) LookupIPAddr(_ context.Context, host string) ([]net.IPAddr, error) {
	var addrs []net.IPAddr
	for _, ip := range r[host] {
		addrs = append(addrs, net.IPAddr{IP: net.ParseIP(ip)})
	}
	if len(addrs) == 0 {
		return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
	}
	return addrs, nil
}

func TestValidatePublicURL(t *testing.T) {
	resolver := staticResolver{
		"www.nutritionix.com": {"104.18.2.1"},
		"sneaky.example.com":  {"93.184.216.34", "10.0.0.5"},
	}

	tests := []struct {
		url     string
		wantErr bool
	}{
		{"https://www.nutritionix.com/food/butter", false},
		{"http://unresolvable.example.org/x", false},
		{"https://93.184.216.34/page", false},
		{"ftp://www.nutritionix.com/file", true},
		{"https://localhost:8080/", true},
		{"http://metadata.google.internal/computeMetadata/v1/", true},
		{"http://169.254.169.254/latest/meta-data/", true},
		{"http://192.168.1.10/", true},
		{"http://[::1]/", true},
		{"http://100.64.0.1/", true},
		{"https://sneaky.example.com/", true},
		{"https:///nohost", true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			_, err := ValidatePublicURL(context.Background(), resolver, tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePublicURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestIsBlockedHostname(t *testing.T) {
	if !IsBlockedHostname("LOCALHOST.") {
		t.Error("expected localhost with trailing dot to be blocked")
	}
	if !IsBlockedHostname("api.kubernetes.default.svc") {
		t.Error("expected subdomain of a blocked host to be blocked")
	}
	if IsBlockedHostname("mylocalhost.com") {
		t.Error("did not expect mylocalhost.com to be blocked")
	}
}
