// Package telemetry defines the three game-telemetry record shapes, the
// eventType discriminator that selects between them and the documents they
// are shaped into before indexing.
package telemetry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind is the value of the eventType discriminator.
type Kind string

const (
	KindRewarded  Kind = "rewarded"
	KindPurchase  Kind = "iap"
	KindLevelPlay Kind = "level"
)

// Collection names in the search backend.
const (
	CollectionRewardedAds = "rewarded_ads"
	CollectionPurchases   = "iap"
	CollectionLevelPlay   = "level_play"
)

// Kinds lists every supported kind in a stable order.
var Kinds = []Kind{KindRewarded, KindPurchase, KindLevelPlay}

// ParseKind reports whether s names a supported kind.
func ParseKind(s string) (Kind, bool) {
	switch k := Kind(s); k {
	case KindRewarded, KindPurchase, KindLevelPlay:
		return k, true
	}
	return "", false
}

// Collection returns the index the kind is stored in.
func (k Kind) Collection() string {
	switch k {
	case KindRewarded:
		return CollectionRewardedAds
	case KindPurchase:
		return CollectionPurchases
	case KindLevelPlay:
		return CollectionLevelPlay
	}
	return ""
}

// NewDocumentID returns a fresh document ID of the form <collection>_<uuid>.
func (k Kind) NewDocumentID() string {
	return k.Collection() + "_" + uuid.NewString()
}

// Label is the human name used in acknowledgements ("Logged IAP event").
func (k Kind) Label() string {
	switch k {
	case KindRewarded:
		return "RewardedAds"
	case KindPurchase:
		return "IAP"
	case KindLevelPlay:
		return "LevelPlay"
	}
	return string(k)
}

// Record is implemented by the three event shapes.
type Record interface {
	Kind() Kind
	// Document returns the value written to the search backend.
	Document() any
	EventTime() time.Time
}

// RewardedAd is a completed rewarded-ad view.
type RewardedAd struct {
	UserID             string    `json:"userId" validate:"required"`
	Platform           string    `json:"platform"`
	Country            string    `json:"country"`
	GameVersion        string    `json:"gameVersion"`
	Level              string    `json:"level"`
	LoggedDay          int       `json:"loggedDay" validate:"gte=0"`
	Date               Timestamp `json:"date,omitzero"`
	AccountCreatedDate Timestamp `json:"accountCreatedDate,omitzero"`
	Placement          string    `json:"placement" validate:"required"`
	SubPlacement       string    `json:"subPlacement"`
}

func (r *RewardedAd) Kind() Kind           { return KindRewarded }
func (r *RewardedAd) EventTime() time.Time { return r.Date.Time }

// rewardedDocument adds a numeric mirror of the string level so charts can
// range-filter on it.
type rewardedDocument struct {
	*RewardedAd
	LevelNumber *int `json:"levelNumber,omitempty"`
}

func (r *RewardedAd) Document() any {
	doc := rewardedDocument{RewardedAd: r}
	if n, err := strconv.Atoi(strings.TrimSpace(r.Level)); err == nil {
		doc.LevelNumber = &n
	}
	return doc
}

// Purchase is an in-app-purchase event.
type Purchase struct {
	UserID             string    `json:"userId" validate:"required"`
	GameID             string    `json:"gameId"`
	EventType          string    `json:"eventType"`
	Placement          string    `json:"placement"`
	SubPlacement       string    `json:"subPlacement"`
	Platform           string    `json:"platform"`
	Country            string    `json:"country"`
	GameVersion        string    `json:"gameVersion"`
	Level              int       `json:"level" validate:"gte=0"`
	LoggedDay          int       `json:"loggedDay" validate:"gte=0"`
	AccountCreatedDate Timestamp `json:"accountCreatedDate,omitzero"`
	Date               Timestamp `json:"date,omitzero"`
	ProductID          string    `json:"productId" validate:"required"`
	TransactionID      string    `json:"transactionId"`
	OrderID            string    `json:"orderId"`
	PurchaseState      string    `json:"purchaseState"`
	Receipt            string    `json:"receipt"`
	CurrencyCode       string    `json:"currencyCode" validate:"omitempty,len=3,alpha"`
	PurchaseToken      string    `json:"purchaseToken"`
	Price              float64   `json:"price" validate:"gte=0"`
}

func (p *Purchase) Kind() Kind           { return KindPurchase }
func (p *Purchase) EventTime() time.Time { return p.Date.Time }

func (p *Purchase) Document() any {
	p.EventType = string(KindPurchase)
	return p
}

// LevelPlay is a single level attempt.
type LevelPlay struct {
	UserID             string    `json:"userId" validate:"required"`
	Platform           string    `json:"platform"`
	Country            string    `json:"country"`
	GameVersion        string    `json:"gameVersion"`
	LoggedDay          int       `json:"loggedDay" validate:"gte=0"`
	Date               Timestamp `json:"date,omitzero"`
	AccountCreatedDate Timestamp `json:"accountCreatedDate,omitzero"`
	Difficulty         string    `json:"difficulty"`
	Duration           int       `json:"duration" validate:"gte=0"`
	GameLevel          int       `json:"gameLevel" validate:"gte=0"`
	GameMode           string    `json:"gameMode"`
	Status             string    `json:"status" validate:"required"`
}

func (l *LevelPlay) Kind() Kind           { return KindLevelPlay }
func (l *LevelPlay) EventTime() time.Time { return l.Date.Time }
func (l *LevelPlay) Document() any        { return l }

// Decode unmarshals raw into the record shape for kind. Purchases reject
// unknown fields; the other kinds ignore them.
func Decode(kind Kind, raw []byte) (Record, error) {
	var rec Record
	strict := false
	switch kind {
	case KindRewarded:
		rec = &RewardedAd{}
	case KindPurchase:
		rec = &Purchase{}
		strict = true
	case KindLevelPlay:
		rec = &LevelPlay{}
	default:
		return nil, fmt.Errorf("unknown eventType: %s", kind)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	if strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(rec); err != nil {
		return nil, fmt.Errorf("decoding %s event: %w", kind, err)
	}
	return rec, nil
}
