package main

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/ThaoDoan2/ElasticClient/internal/telemetry"
)

var (
	platforms    = []string{"android", "ios"}
	countries    = []string{"US", "VN", "DE", "BR", "JP", "IN"}
	gameVersions = []string{"1.0.0", "1.1.0", "1.2.0"}
	adPlacements = []string{"shop", "daily_reward", "revive", "double_coins"}
	products     = []struct {
		id    string
		price float64
	}{
		{"gems_100", 0.99},
		{"gems_500", 4.99},
		{"starter_pack", 2.99},
		{"no_ads", 3.99},
	}
	statuses = []string{"start", "win", "lose"}
)

// generator produces synthetic events spread over the last spreadDays days.
type generator struct {
	rng        *rand.Rand
	now        func() time.Time
	spreadDays int
}

func newGenerator(seed uint64, spreadDays int) *generator {
	return &generator{
		rng:        rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		now:        time.Now,
		spreadDays: max(spreadDays, 1),
	}
}

func (g *generator) pick(values []string) string {
	return values[g.rng.IntN(len(values))]
}

func (g *generator) eventTime() telemetry.Timestamp {
	offset := time.Duration(g.rng.Int64N(int64(g.spreadDays) * int64(24*time.Hour)))
	return telemetry.NewTimestamp(g.now().Add(-offset))
}

func (g *generator) user() string {
	return fmt.Sprintf("user-%04d", g.rng.IntN(5000))
}

// event returns a payload for kind with its eventType discriminator set.
func (g *generator) event(kind telemetry.Kind) any {
	date := g.eventTime()
	created := telemetry.NewTimestamp(date.AddDate(0, 0, -g.rng.IntN(60)))
	switch kind {
	case telemetry.KindRewarded:
		return struct {
			EventType string `json:"eventType"`
			telemetry.RewardedAd
		}{string(kind), telemetry.RewardedAd{
			UserID:             g.user(),
			Platform:           g.pick(platforms),
			Country:            g.pick(countries),
			GameVersion:        g.pick(gameVersions),
			Level:              strconv.Itoa(1 + g.rng.IntN(50)),
			LoggedDay:          g.rng.IntN(30),
			Date:               date,
			AccountCreatedDate: created,
			Placement:          g.pick(adPlacements),
		}}
	case telemetry.KindPurchase:
		p := products[g.rng.IntN(len(products))]
		return &telemetry.Purchase{
			UserID:             g.user(),
			EventType:          string(kind),
			Placement:          g.pick(adPlacements),
			Platform:           g.pick(platforms),
			Country:            g.pick(countries),
			GameVersion:        g.pick(gameVersions),
			Level:              1 + g.rng.IntN(50),
			LoggedDay:          g.rng.IntN(30),
			AccountCreatedDate: created,
			Date:               date,
			ProductID:          p.id,
			TransactionID:      fmt.Sprintf("GPA.%d", g.rng.Int64()),
			PurchaseState:      "purchased",
			CurrencyCode:       "USD",
			Price:              p.price,
		}
	default:
		return struct {
			EventType string `json:"eventType"`
			telemetry.LevelPlay
		}{string(telemetry.KindLevelPlay), telemetry.LevelPlay{
			UserID:             g.user(),
			Platform:           g.pick(platforms),
			Country:            g.pick(countries),
			GameVersion:        g.pick(gameVersions),
			LoggedDay:          g.rng.IntN(30),
			Date:               date,
			AccountCreatedDate: created,
			Difficulty:         g.pick([]string{"easy", "normal", "hard"}),
			Duration:           10 + g.rng.IntN(300),
			GameLevel:          1 + g.rng.IntN(50),
			GameMode:           "campaign",
			Status:             g.pick(statuses),
		}}
	}
}

// kindFor spreads requests across the kinds. With only set, every request
// uses that kind.
func (g *generator) kindFor(only string) telemetry.Kind {
	if k, ok := telemetry.ParseKind(only); ok {
		return k
	}
	return telemetry.Kinds[g.rng.IntN(len(telemetry.Kinds))]
}
