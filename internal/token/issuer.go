package token

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNotConfigured is returned when any of the three LiveKit secrets is
// missing. Callers must not retry.
var ErrNotConfigured = errors.New("livekit url, api key and api secret must be configured")

// ErrSigningFailed wraps a failure to sign the participant token. The wrapped
// message never contains key material.
var ErrSigningFailed = errors.New("participant token signing failed")

const (
	roomPrefix     = "voice_assistant_room_"
	identityPrefix = "voice_assistant_user_"

	// The frontend displays every patient participant under this name.
	participantDisplayName = "user"
)

// Grants are the room capabilities embedded in a credential. Patient and
// agent join with identical full-duplex capability; there is no read-only
// role.
type Grants struct {
	RoomJoin       bool `json:"roomJoin"`
	CanPublish     bool `json:"canPublish"`
	CanPublishData bool `json:"canPublishData"`
	CanSubscribe   bool `json:"canSubscribe"`
}

// Credential is a short-lived, capability-scoped room access token plus the
// connection coordinates a client needs to join. Immutable once issued.
type Credential struct {
	ServerURL       string        `json:"server_url"`
	RoomName        string        `json:"room_name"`
	Identity        string        `json:"identity"`
	ParticipantName string        `json:"participant_name"`
	Grants          Grants        `json:"grants"`
	TTL             time.Duration `json:"ttl_ms"`
	DispatchAgent   string        `json:"dispatch_agent,omitempty"`
	Token           string        `json:"token"`
}

// Request carries the caller-controlled portion of an issuance. Room and
// identity are always generated server-side.
type Request struct {
	PreferredAgentName string
}

// Options configure an Issuer.
type Options struct {
	ServerURL string
	APIKey    string
	APISecret string
	TTL       time.Duration
	Now       func() time.Time
}

// Issuer mints participant credentials. It holds no state across calls;
// concurrent use is safe.
type Issuer struct {
	serverURL string
	apiKey    string
	apiSecret string
	ttl       time.Duration
	now       func() time.Time
}

func NewIssuer(opts Options) *Issuer {
	if opts.TTL <= 0 {
		opts.TTL = 15 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Issuer{
		serverURL: opts.ServerURL,
		apiKey:    opts.APIKey,
		apiSecret: opts.APISecret,
		ttl:       opts.TTL,
		now:       opts.Now,
	}
}

// IssueCredential mints a credential for a fresh room. When
// req.PreferredAgentName is set, the token carries room dispatch
// configuration so the named agent is invited once the room exists; the
// dispatch itself is performed by the transport's room orchestration.
func (i *Issuer) IssueCredential(req Request) (Credential, error) {
	suffix, err := randomSuffix()
	if err != nil {
		return Credential{}, fmt.Errorf("%w: %v", ErrSigningFailed, err)
	}
	return i.issue(roomPrefix+suffix, identityPrefix+suffix, participantDisplayName, req.PreferredAgentName)
}

// IssueForRoom mints a credential for an explicit room and participant name.
// Development helper backing the local token proxy; production issuance goes
// through IssueCredential.
func (i *Issuer) IssueForRoom(roomName, participantName string) (Credential, error) {
	suffix, err := randomSuffix()
	if err != nil {
		return Credential{}, fmt.Errorf("%w: %v", ErrSigningFailed, err)
	}
	if participantName == "" {
		participantName = participantDisplayName
	}
	return i.issue(roomName, identityPrefix+suffix, participantName, "")
}

func (i *Issuer) issue(roomName, identity, displayName, agentName string) (Credential, error) {
	if i.serverURL == "" || i.apiKey == "" || i.apiSecret == "" {
		return Credential{}, ErrNotConfigured
	}

	grants := Grants{
		RoomJoin:       true,
		CanPublish:     true,
		CanPublishData: true,
		CanSubscribe:   true,
	}

	now := i.now().UTC()
	claims := accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.apiKey,
			Subject:   identity,
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		Name: displayName,
		Video: videoGrant{
			Room:           roomName,
			RoomJoin:       grants.RoomJoin,
			CanPublish:     grants.CanPublish,
			CanPublishData: grants.CanPublishData,
			CanSubscribe:   grants.CanSubscribe,
		},
	}
	if agentName != "" {
		claims.RoomConfig = &roomConfig{
			Agents: []roomAgent{{AgentName: agentName}},
		}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(i.apiSecret))
	if err != nil {
		// Never echo the signing error verbatim past this package boundary
		// with key material attached; jwt errors do not include the key but
		// the sentinel keeps the caller-facing message opaque either way.
		return Credential{}, fmt.Errorf("%w: %v", ErrSigningFailed, err)
	}

	return Credential{
		ServerURL:       i.serverURL,
		RoomName:        roomName,
		Identity:        identity,
		ParticipantName: displayName,
		Grants:          grants,
		TTL:             i.ttl,
		DispatchAgent:   agentName,
		Token:           signed,
	}, nil
}

// Claims is the decoded view of an issued token, used by tests and the dev
// token proxy to confirm what was minted.
type Claims struct {
	Issuer        string
	Identity      string
	Name          string
	Room          string
	Grants        Grants
	DispatchAgent string
	ExpiresAt     time.Time
}

// Verify decodes a token this issuer produced and validates its signature.
func (i *Issuer) Verify(tokenString string) (Claims, error) {
	if i.apiSecret == "" {
		return Claims{}, ErrNotConfigured
	}
	var parsed accessClaims
	_, err := jwt.ParseWithClaims(tokenString, &parsed, func(*jwt.Token) (any, error) {
		return []byte(i.apiSecret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return Claims{}, fmt.Errorf("verify token: %w", err)
	}

	claims := Claims{
		Issuer:   parsed.Issuer,
		Identity: parsed.Subject,
		Name:     parsed.Name,
		Room:     parsed.Video.Room,
		Grants: Grants{
			RoomJoin:       parsed.Video.RoomJoin,
			CanPublish:     parsed.Video.CanPublish,
			CanPublishData: parsed.Video.CanPublishData,
			CanSubscribe:   parsed.Video.CanSubscribe,
		},
	}
	if parsed.ExpiresAt != nil {
		claims.ExpiresAt = parsed.ExpiresAt.Time.UTC()
	}
	if parsed.RoomConfig != nil && len(parsed.RoomConfig.Agents) > 0 {
		claims.DispatchAgent = parsed.RoomConfig.Agents[0].AgentName
	}
	return claims, nil
}

// accessClaims follows the LiveKit access token layout: the capability grant
// lives in a "video" claim and the declarative agent dispatch in "roomConfig".
type accessClaims struct {
	jwt.RegisteredClaims
	Name       string      `json:"name,omitempty"`
	Video      videoGrant  `json:"video"`
	RoomConfig *roomConfig `json:"roomConfig,omitempty"`
}

type videoGrant struct {
	Room           string `json:"room,omitempty"`
	RoomJoin       bool   `json:"roomJoin,omitempty"`
	CanPublish     bool   `json:"canPublish,omitempty"`
	CanPublishData bool   `json:"canPublishData,omitempty"`
	CanSubscribe   bool   `json:"canSubscribe,omitempty"`
}

type roomConfig struct {
	Agents []roomAgent `json:"agents,omitempty"`
}

type roomAgent struct {
	AgentName string `json:"agentName,omitempty"`
}

// randomSuffix draws a 63-bit numeric suffix. The suffix space makes
// room/identity collisions across tens of thousands of issuances negligible.
func randomSuffix() (string, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("read random suffix: %w", err)
	}
	n := binary.BigEndian.Uint64(buf[:]) >> 1
	return strconv.FormatUint(n, 10), nil
}
