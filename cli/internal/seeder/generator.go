// Package seeder generates fake envelopes and publishes them to a feed so
// the sink and compaction can be exercised end to end.
package seeder

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math/rand"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"

	"github.com/telhawk-systems/telhawk-lake/common/models"
)

// Kind labels what a generated message exercises downstream.
type Kind string

const (
	KindValid     Kind = "valid"
	KindDuplicate Kind = "duplicate"
	KindBad       Kind = "bad"
)

// Options controls generation.
type Options struct {
	// DupRate is the fraction of messages that repeat an earlier event.
	DupRate float64
	// BadRate is the fraction of messages the sink should drop.
	BadRate float64
	// TimeSpread places ingest times over the window ending now. Zero
	// stamps every event with the current time.
	TimeSpread time.Duration
	// Tenants to draw tenant_id from.
	Tenants []string
	// Seed makes the content reproducible. Zero seeds from the clock.
	Seed int64
}

// Message is one generated feed message.
type Message struct {
	Key   string
	Value []byte
	Kind  Kind
}

var eventTypes = []string{"login", "logout", "page_view", "purchase", "api_call", "file_upload"}

var sourceSystems = []string{"web", "mobile", "billing", "gateway"}

var environments = []string{"prod", "staging", "dev"}

const recentWindow = 64

// Generator produces envelopes. It is not safe for concurrent use.
type Generator struct {
	opts   Options
	faker  *gofakeit.Faker
	rng    *rand.Rand
	now    func() time.Time
	recent []Message
}

// NewGenerator returns a Generator.
func NewGenerator(opts Options) *Generator {
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if len(opts.Tenants) == 0 {
		opts.Tenants = []string{"tenant-a", "tenant-b", "tenant-c"}
	}
	return &Generator{
		opts:  opts,
		faker: gofakeit.New(seed),
		rng:   rand.New(rand.NewSource(seed)),
		now:   time.Now,
	}
}

// Next returns message index of total.
func (g *Generator) Next(index, total int) Message {
	roll := g.rng.Float64()
	switch {
	case roll < g.opts.BadRate:
		return g.bad()
	case roll < g.opts.BadRate+g.opts.DupRate && len(g.recent) > 0:
		prev := g.recent[g.rng.Intn(len(g.recent))]
		return Message{Key: prev.Key, Value: prev.Value, Kind: KindDuplicate}
	}

	msg := g.valid(g.ingestTime(index, total))
	if len(g.recent) < recentWindow {
		g.recent = append(g.recent, msg)
	} else {
		g.recent[g.rng.Intn(recentWindow)] = msg
	}
	return msg
}

// ingestTime spreads events across the window with ±40% jitter around
// their even slot, going backwards from now.
func (g *Generator) ingestTime(index, total int) time.Time {
	now := g.now().UTC()
	spread := g.opts.TimeSpread
	if spread <= 0 || total <= 0 {
		return now
	}
	interval := float64(spread) / float64(total)
	offset := time.Duration(float64(index)*interval + (g.rng.Float64()*2-1)*interval*0.4)
	offset = min(max(offset, 0), spread)
	return now.Add(-(spread - offset))
}

func (g *Generator) valid(ingest time.Time) Message {
	f := g.faker
	eventType := f.RandomString(eventTypes)
	id := uuid.NewString()
	payload := g.payload(eventType)

	raw, _ := json.Marshal(payload)
	sum := sha256.Sum256(raw)

	env := map[string]any{
		models.FieldEventID:       id,
		models.FieldEventType:     eventType,
		models.FieldSchemaVersion: f.Number(1, 3),
		models.FieldEventTime:     ingest.Add(-time.Duration(f.Number(0, 5000)) * time.Millisecond).Format(time.RFC3339Nano),
		models.FieldIngestTime:    ingest.Format(time.RFC3339Nano),
		models.FieldTenantID:      f.RandomString(g.opts.Tenants),
		models.FieldUserID:        f.Username(),
		models.FieldSessionID:     f.UUID(),
		models.FieldSourceSystem:  f.RandomString(sourceSystems),
		models.FieldEnvironment:   f.RandomString(environments),
		models.FieldRecordSource:  "lakectl-seed",
		models.FieldChecksum:      hex.EncodeToString(sum[:]),
		models.FieldPayload:       json.RawMessage(raw),
	}
	value, _ := json.Marshal(env)
	return Message{Key: id, Value: value, Kind: KindValid}
}

func (g *Generator) payload(eventType string) map[string]any {
	f := g.faker
	p := map[string]any{
		"ip":         f.IPv4Address(),
		"user_agent": f.UserAgent(),
	}
	switch eventType {
	case "login", "logout":
		p["success"] = f.Bool()
		p["method"] = f.RandomString([]string{"password", "sso", "mfa"})
	case "page_view":
		p["url"] = f.URL()
		p["referrer"] = f.DomainName()
	case "purchase":
		p["amount"] = f.Price(1, 500)
		p["currency"] = f.CurrencyShort()
		p["items"] = f.Number(1, 8)
	case "api_call":
		p["method"] = f.HTTPMethod()
		p["path"] = "/" + f.Word()
		p["status"] = f.HTTPStatusCode()
		p["latency_ms"] = f.Number(1, 1500)
	case "file_upload":
		p["name"] = f.Word() + "." + f.FileExtension()
		p["bytes"] = f.Number(100, 10_000_000)
	}
	return p
}

// bad produces a message the sink drops: unparsable JSON, a non-object, or
// an envelope whose ingest_time is missing or unusable.
func (g *Generator) bad() Message {
	id := uuid.NewString()
	var value []byte
	switch g.rng.Intn(4) {
	case 0:
		value = []byte(`{"event_id":"` + id + `","ingest_time":`)
	case 1:
		value, _ = json.Marshal([]string{id})
	case 2:
		value, _ = json.Marshal(map[string]any{models.FieldEventID: id, models.FieldEventType: "orphan"})
	default:
		value, _ = json.Marshal(map[string]any{models.FieldEventID: id, models.FieldIngestTime: g.faker.Date().Format("Jan 2 2006")})
	}
	return Message{Key: id, Value: value, Kind: KindBad}
}
