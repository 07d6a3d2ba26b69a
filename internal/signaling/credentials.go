package signaling

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/viper"

	"github.com/openquill/voxsignal/internal/errors"
)

const ErrNoTURNSecret = errors.Code("signaling: TURN secret not configured")

const DefaultCredentialTTL = 24 * time.Hour

type Config struct {
	TURNSecret    string        `mapstructure:"turn_secret"`
	TURNURLs      []string      `mapstructure:"turn_urls"`
	STUNURLs      []string      `mapstructure:"stun_urls"`
	CredentialTTL time.Duration `mapstructure:"credential_ttl"`
}

func Setup(v *viper.Viper, prefix string) {
	v.SetDefault(prefix+".stun_urls", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault(prefix+".credential_ttl", DefaultCredentialTTL)
}

// ICEServer mirrors the RTCIceServer dictionary handed to browsers.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

type Credentials struct {
	Username   string      `json:"username"`
	Credential string      `json:"credential"`
	TTL        int64       `json:"ttl"`
	ICEServers []ICEServer `json:"ice_servers"`
	ExpiresAt  time.Time   `json:"expires_at"`
}

// CredentialIssuer mints ephemeral TURN credentials following the
// coturn REST API convention: the username is "<expiry>:<user>" and
// the credential is the hex HMAC-SHA1 of that username under the
// shared TURN secret.
type CredentialIssuer struct {
	cfg   Config
	clock clockwork.Clock
}

func NewCredentialIssuer(cfg Config) *CredentialIssuer {
	return newCredentialIssuerWithClock(cfg, clockwork.NewRealClock())
}

func newCredentialIssuerWithClock(cfg Config, clock clockwork.Clock) *CredentialIssuer {
	if cfg.CredentialTTL <= 0 {
		cfg.CredentialTTL = DefaultCredentialTTL
	}
	return &CredentialIssuer{
		cfg:   cfg,
		clock: clock,
	}
}

func (ci *CredentialIssuer) Issue(userID string) (*Credentials, error) {
	if ci.cfg.TURNSecret == "" {
		return nil, errors.New(ErrNoTURNSecret, "turn_secret is not set")
	}

	expiresAt := ci.clock.Now().Add(ci.cfg.CredentialTTL)
	username := fmt.Sprintf("%d:%s", expiresAt.Unix(), userID)

	mac := hmac.New(sha1.New, []byte(ci.cfg.TURNSecret))
	mac.Write([]byte(username))
	credential := hex.EncodeToString(mac.Sum(nil))

	servers := make([]ICEServer, 0, 2)
	if len(ci.cfg.STUNURLs) > 0 {
		servers = append(servers, ICEServer{URLs: ci.cfg.STUNURLs})
	}
	if len(ci.cfg.TURNURLs) > 0 {
		servers = append(servers, ICEServer{
			URLs:       ci.cfg.TURNURLs,
			Username:   username,
			Credential: credential,
		})
	}

	return &Credentials{
		Username:   username,
		Credential: credential,
		TTL:        int64(ci.cfg.CredentialTTL / time.Second),
		ICEServers: servers,
		ExpiresAt:  expiresAt,
	}, nil
}
