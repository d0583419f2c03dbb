package marketdata_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"ultramatch/src/marketdata"
)

func TestRecordValidation(t *testing.T) {
	cases := []struct {
		name   string
		record marketdata.Record
		want   bool
	}{
		{"valid trade", marketdata.Record{Symbol: "AAPL", Type: marketdata.RecordTrade, TradePrice: 100, TradeQuantity: 10}, true},
		{"trade zero price", marketdata.Record{Symbol: "AAPL", Type: marketdata.RecordTrade, TradeQuantity: 10}, false},
		{"trade zero quantity", marketdata.Record{Symbol: "AAPL", Type: marketdata.RecordTrade, TradePrice: 100}, false},
		{"valid quote", marketdata.Record{Symbol: "AAPL", Type: marketdata.RecordQuote, BidPrice: 99, AskPrice: 101}, true},
		{"quote negative bid", marketdata.Record{Symbol: "AAPL", Type: marketdata.RecordQuote, BidPrice: -1, AskPrice: 101}, false},
		{"valid tick", marketdata.Record{Symbol: "AAPL", Type: marketdata.RecordTick}, true},
		{"valid book update", marketdata.Record{Symbol: "AAPL", Type: marketdata.RecordBookUpdate, Price: 100}, true},
		{"book update zero price", marketdata.Record{Symbol: "AAPL", Type: marketdata.RecordBookUpdate}, false},
		{"empty symbol", marketdata.Record{Type: marketdata.RecordTick}, false},
		{"symbol too long", marketdata.Record{Symbol: "ABCDEFGHIJKLMNOPQ", Type: marketdata.RecordTick}, false},
		{"unknown type", marketdata.Record{Symbol: "AAPL", Type: "BOGUS"}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.record.Valid(); got != tc.want {
				t.Errorf("Valid() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestFeedRequiresSymbols(t *testing.T) {
	_, err := marketdata.NewFeed(marketdata.FeedConfig{}, func(marketdata.Record) error { return nil })
	if !errors.Is(err, marketdata.ErrNoSymbols) {
		t.Errorf("Expected ErrNoSymbols, got: %v", err)
	}
}

func TestFeedGeneratesValidRecords(t *testing.T) {
	var mu sync.Mutex
	var records []marketdata.Record

	cfg := marketdata.FeedConfig{
		Symbols:  []string{"AAPL", "MSFT"},
		TickRate: 1000,
		Seed:     7,
	}
	feed, err := marketdata.NewFeed(cfg, func(r marketdata.Record) error {
		mu.Lock()
		records = append(records, r)
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("NewFeed failed: %v", err)
	}

	if err := feed.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := feed.Start(); !errors.Is(err, marketdata.ErrAlreadyStreaming) {
		t.Errorf("Expected ErrAlreadyStreaming, got: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(records)
		mu.Unlock()
		if n >= 20 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	feed.Stop()
	feed.Stop() // second stop is a no-op

	mu.Lock()
	defer mu.Unlock()
	if len(records) == 0 {
		t.Fatal("Feed generated no records")
	}
	var lastSeq uint64
	for _, record := range records {
		if !record.Valid() {
			t.Errorf("Feed emitted invalid record: %+v", record)
		}
		if record.Symbol != "AAPL" && record.Symbol != "MSFT" {
			t.Errorf("Unexpected symbol %q", record.Symbol)
		}
		if record.SequenceNumber <= lastSeq {
			t.Errorf("Sequence numbers not increasing: %d after %d", record.SequenceNumber, lastSeq)
		}
		lastSeq = record.SequenceNumber
	}
	if feed.Generated() != uint64(len(records)) {
		t.Errorf("Generated() = %d, delivered %d", feed.Generated(), len(records))
	}
	if feed.Dropped() != 0 {
		t.Errorf("Expected no drops, got %d", feed.Dropped())
	}
}

func TestFeedCountsRefusedRecords(t *testing.T) {
	refuse := errors.New("refused")
	feed, err := marketdata.NewFeed(marketdata.FeedConfig{
		Symbols:  []string{"AAPL"},
		TickRate: 1000,
		Seed:     7,
	}, func(marketdata.Record) error { return refuse })
	if err != nil {
		t.Fatalf("NewFeed failed: %v", err)
	}

	if err := feed.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && feed.Dropped() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	feed.Stop()

	if feed.Dropped() == 0 {
		t.Error("Refused records should be counted as dropped")
	}
	if feed.Dropped() != feed.Generated() {
		t.Errorf("All records were refused: dropped=%d generated=%d", feed.Dropped(), feed.Generated())
	}
}
