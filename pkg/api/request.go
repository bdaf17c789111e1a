package api

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// DefaultBaseURL is the production endpoint of the remote API.
const DefaultBaseURL = "https://www.nationstates.net/cgi-bin/api.cgi"

// Version is the API version every request pins, so response shapes stay
// stable across remote upgrades.
const Version = "12"

// libraryVersion identifies this client in User-Agent strings.
const libraryVersion = "0.9.0"

// Kind identifies the remote endpoint family a request addresses.
type Kind int

const (
	// KindNation queries a nation's public shards.
	KindNation Kind = iota
	// KindRegion queries a region's public shards.
	KindRegion
	// KindWorld queries world-wide shards.
	KindWorld
	// KindWorldAssembly queries a World Assembly council.
	KindWorldAssembly
	// KindVerify checks a nation login checksum. Auth-adjacent, never cached.
	KindVerify
	// KindTelegram sends a telegram. Non-idempotent, never cached.
	KindTelegram
	// KindCommand executes a nation command. Non-idempotent, never cached.
	KindCommand
)

func (k Kind) String() string {
	switch k {
	case KindNation:
		return "nation"
	case KindRegion:
		return "region"
	case KindWorld:
		return "world"
	case KindWorldAssembly:
		return "wa"
	case KindVerify:
		return "verify"
	case KindTelegram:
		return "telegram"
	case KindCommand:
		return "command"
	default:
		return "unknown"
	}
}

// Cacheable reports whether responses for this kind may be served from
// cache. Verification, telegrams, and commands are inherently
// non-idempotent and always go to the wire.
func (k Kind) Cacheable() bool {
	switch k {
	case KindNation, KindRegion, KindWorld, KindWorldAssembly:
		return true
	default:
		return false
	}
}

// Request is one logical call to the remote API, before shaping into an
// HTTP request.
type Request struct {
	Kind   Kind
	Name   string     // nation or region name; unused for world-level kinds
	Shards []string   // requested shards, order-insensitive
	Params url.Values // extra parameters (census scales, WA council, ...)
	Auth   *Auth      // nil for public requests

	// Recruitment distinguishes the two telegram cadence categories.
	Recruitment bool
}

// NewNation builds a public nation shard query.
func NewNation(name string, shards ...string) *Request {
	return &Request{Kind: KindNation, Name: name, Shards: shards}
}

// NewRegion builds a public region shard query.
func NewRegion(name string, shards ...string) *Request {
	return &Request{Kind: KindRegion, Name: name, Shards: shards}
}

// NewWorld builds a world shard query.
func NewWorld(shards ...string) *Request {
	return &Request{Kind: KindWorld, Shards: shards}
}

// NewWorldAssembly builds a World Assembly query for the given council
// (1 = General Assembly, 2 = Security Council).
func NewWorldAssembly(council int, shards ...string) *Request {
	params := url.Values{}
	params.Set("wa", strconv.Itoa(council))
	return &Request{Kind: KindWorldAssembly, Shards: shards, Params: params}
}

// NewVerify builds a login verification check for a nation and its site
// checksum code.
func NewVerify(nation, checksum string) *Request {
	params := url.Values{}
	params.Set("a", "verify")
	params.Set("checksum", checksum)
	return &Request{Kind: KindVerify, Name: nation, Params: params}
}

// NewTelegram builds a telegram send. The client key, telegram id, and
// secret key come from the telegram API registration; to is the recipient
// nation.
func NewTelegram(clientKey, tgid, secretKey, to string, recruitment bool) *Request {
	params := url.Values{}
	params.Set("a", "sendTG")
	params.Set("client", clientKey)
	params.Set("tgid", tgid)
	params.Set("key", secretKey)
	params.Set("to", canonicalName(to))
	return &Request{Kind: KindTelegram, Params: params, Recruitment: recruitment}
}

// NewCommand builds an authenticated nation command (issue answers, RMB
// posts, flag changes, ...).
func NewCommand(nation, command string, params url.Values, auth *Auth) *Request {
	merged := url.Values{}
	for k, vs := range params {
		merged[k] = append([]string(nil), vs...)
	}
	merged.Set("c", command)
	return &Request{Kind: KindCommand, Name: nation, Params: merged, Auth: auth}
}

// QueryValues assembles the full query string parameters for the request.
// Shards are sorted and space-joined: form encoding renders the space as the
// plus separator the remote API expects.
func (r *Request) QueryValues() url.Values {
	values := url.Values{}
	for k, vs := range r.Params {
		values[k] = append([]string(nil), vs...)
	}

	switch r.Kind {
	case KindNation, KindVerify, KindCommand:
		values.Set("nation", canonicalName(r.Name))
	case KindRegion:
		values.Set("region", canonicalName(r.Name))
	}

	if len(r.Shards) > 0 {
		values.Set("q", strings.Join(sortedShards(r.Shards), " "))
	}
	values.Set("v", Version)
	return values
}

// URL renders the request against the given base endpoint. An empty base
// uses DefaultBaseURL.
func (r *Request) URL(base string) string {
	if base == "" {
		base = DefaultBaseURL
	}
	return base + "?" + r.QueryValues().Encode()
}

// Fingerprint returns the canonical cache identity of the request: a pure
// function of kind, name, sorted shards, sorted extra parameters, and API
// version. ok is false for requests that must never be cached: auth-bearing
// requests and non-idempotent kinds.
func (r *Request) Fingerprint() (string, bool) {
	if !r.Kind.Cacheable() || r.Auth != nil {
		return "", false
	}

	var b strings.Builder
	b.WriteString("v=")
	b.WriteString(Version)
	b.WriteString("|")
	b.WriteString(r.Kind.String())
	if r.Name != "" {
		b.WriteString("|")
		b.WriteString(canonicalName(r.Name))
	}
	if len(r.Shards) > 0 {
		b.WriteString("|q=")
		b.WriteString(strings.Join(sortedShards(r.Shards), "+"))
	}
	if len(r.Params) > 0 {
		keys := make([]string, 0, len(r.Params))
		for k := range r.Params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			vs := append([]string(nil), r.Params[k]...)
			sort.Strings(vs)
			b.WriteString("|")
			b.WriteString(k)
			b.WriteString("=")
			b.WriteString(strings.Join(vs, ","))
		}
	}
	return b.String(), true
}

// UserAgent assembles the User-Agent the remote API requires: a script
// identifier plus operator contact details.
func UserAgent(contact string) string {
	return fmt.Sprintf("nsapi/%s (%s)", libraryVersion, contact)
}

// canonicalName lowercases a nation or region name and collapses spaces to
// underscores, matching the id form the remote API uses.
func canonicalName(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
}

func sortedShards(shards []string) []string {
	out := make([]string, 0, len(shards))
	for _, s := range shards {
		out = append(out, strings.ToLower(strings.TrimSpace(s)))
	}
	sort.Strings(out)
	return out
}
