package playback

import "net/url"

// AuthParam is the query key the storage provider uses for its download
// authorization token.
const AuthParam = "Authorization"

// DeliveryDescriptor is the resolved, provider-signed location of a stream.
// An empty Authorization means the asset is public and requests need no
// rewriting.
type DeliveryDescriptor struct {
	URL           string
	Authorization string
}

// HasAuthorization reports whether sub-requests must carry the token.
func (d DeliveryDescriptor) HasAuthorization() bool {
	return d.Authorization != ""
}

// ExtractAuth returns the value of the Authorization query parameter of
// rawURL. Malformed URLs and missing or empty values yield false.
func ExtractAuth(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	// Query() drops malformed pairs instead of failing.
	value := u.Query().Get(AuthParam)
	if value == "" {
		return "", false
	}
	return value, true
}

// NewDeliveryDescriptor builds the descriptor for a signed URL.
func NewDeliveryDescriptor(signedURL string) DeliveryDescriptor {
	auth, _ := ExtractAuth(signedURL)
	return DeliveryDescriptor{URL: signedURL, Authorization: auth}
}
