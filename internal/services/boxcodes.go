package services

import (
	"context"
	"fmt"
	"math/big"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	warehouserepo "github.com/kryptonit/mes-backend/internal/data/repos/warehouse"
)

const (
	shortCodeAttempts = 5
	codeAlphabet      = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// singleBoxQR is KRYPTO-<unix ms in base36, upper case>.
func singleBoxQR(now time.Time) string {
	return "KRYPTO-" + strings.ToUpper(strconv.FormatInt(now.UnixMilli(), 36))
}

// batchBoxQR is BOX-<unix ms>-<index, 3 digits>-<3 random A-Z0-9>.
func batchBoxQR(now time.Time, index int) string {
	var suffix [3]byte
	for i := range suffix {
		suffix[i] = codeAlphabet[rand.IntN(len(codeAlphabet))]
	}
	return fmt.Sprintf("BOX-%d-%03d-%s", now.UnixMilli(), index, suffix[:])
}

func randomShortCode() string {
	return strconv.Itoa(100000 + rand.IntN(900000))
}

// shortCodeGen hands out 6-digit codes unique against the table and
// against codes already issued for the same batch.
type shortCodeGen struct {
	boxes  warehouserepo.BoxRepo
	issued map[string]bool
}

func newShortCodeGen(boxes warehouserepo.BoxRepo) *shortCodeGen {
	return &shortCodeGen{boxes: boxes, issued: map[string]bool{}}
}

func (g *shortCodeGen) next(ctx context.Context, tx *gorm.DB) (string, error) {
	var code string
	for attempt := 0; attempt < shortCodeAttempts; attempt++ {
		code = randomShortCode()
		if g.issued[code] {
			continue
		}
		exists, err := g.boxes.ShortCodeExists(ctx, tx, code)
		if err != nil {
			return "", err
		}
		if !exists {
			g.issued[code] = true
			return code, nil
		}
	}
	// The unique index rejects a duplicate on insert.
	g.issued[code] = true
	return code, nil
}

// nextSpecialCode increments an all-digit code keeping its width; other codes repeat.
func nextSpecialCode(code string, step int) string {
	if code == "" || strings.Trim(code, "0123456789") != "" {
		return code
	}
	n, ok := new(big.Int).SetString(code, 10)
	if !ok {
		return code
	}
	next := n.Add(n, big.NewInt(int64(step))).String()
	if pad := len(code) - len(next); pad > 0 {
		next = strings.Repeat("0", pad) + next
	}
	return next
}
