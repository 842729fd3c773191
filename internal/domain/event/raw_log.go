package event

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// RawLog is the persisted wire shape of one observed log: one JSON object per
// line in the ledger file. Providers disagree on number encoding (decimal
// string vs JSON number) and on txHash vs transactionHash, so unmarshalling
// is lenient; lines that still fail to coerce are skipped by the reader.
type RawLog struct {
	BlockNumber FlexUint64 `json:"blockNumber"`
	BlockHash   *string    `json:"blockHash,omitempty"`
	TxIndex     *string    `json:"transactionIndex,omitempty"`
	LogIndex    FlexUint64 `json:"logIndex"`
	TxHash      string     `json:"txHash,omitempty"`
	TxHashAlt   string     `json:"transactionHash,omitempty"`
	Address     string     `json:"address"`
	Data        string     `json:"data"`
	Topics      []string   `json:"topics"`
	Removed     bool       `json:"removed"`
}

// Hash returns the transaction hash, preferring the txHash field and falling
// back to transactionHash, lowercased.
func (l *RawLog) Hash() string {
	h := l.TxHash
	if h == "" {
		h = l.TxHashAlt
	}
	return strings.ToLower(h)
}

// Validate reports whether the log carries the minimum fields needed for
// dedup and dispatch.
func (l *RawLog) Validate() error {
	if strings.TrimSpace(l.Address) == "" {
		return fmt.Errorf("missing address")
	}
	if l.Hash() == "" {
		return fmt.Errorf("missing tx hash")
	}
	return nil
}

// DedupKey identifies one applied log record across runs.
type DedupKey struct {
	Contract string
	TxHash   string
	LogIndex int64
}

// Key returns the dedup key for this log, with contract and hash lowercased.
func (l *RawLog) Key() DedupKey {
	return DedupKey{
		Contract: strings.ToLower(l.Address),
		TxHash:   l.Hash(),
		LogIndex: int64(l.LogIndex),
	}
}

// FlexUint64 accepts a JSON number, a decimal string, or a 0x-hex string.
type FlexUint64 uint64

func (f *FlexUint64) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == `""` {
		*f = 0
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		str = strings.TrimSpace(str)
		base := 10
		if strings.HasPrefix(strings.ToLower(str), "0x") {
			str = str[2:]
			base = 16
		}
		v, err := strconv.ParseUint(str, base, 64)
		if err != nil {
			return fmt.Errorf("parse %q: %w", str, err)
		}
		*f = FlexUint64(v)
		return nil
	}
	var v uint64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = FlexUint64(v)
	return nil
}

func (f FlexUint64) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatUint(uint64(f), 10)), nil
}
