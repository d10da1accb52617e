package utils

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/fadhlanhapp/splitbill-backend/models"
)

// SplitProportional distributes total across weights in proportion to
// weight/weightTotal. Shares are whole minor units and sum to the rounded
// proportional amount of the allocated weights, so when the weights cover
// weightTotal the shares sum to total exactly. Leftover units go to the
// largest remainders, ties to the lower index.
func SplitProportional(total models.Money, weights []models.Money, weightTotal models.Money) []models.Money {
	shares := make([]models.Money, len(weights))
	if total == 0 || weightTotal <= 0 {
		return shares
	}
	if total < 0 {
		for i, share := range SplitProportional(-total, weights, weightTotal) {
			shares[i] = -share
		}
		return shares
	}

	t := decimal.NewFromInt(int64(total))
	wt := decimal.NewFromInt(int64(weightTotal))
	remainders := make([]decimal.Decimal, len(weights))

	var allocatedWeight int64
	var assigned models.Money
	var candidates []int
	for i, weight := range weights {
		if weight <= 0 {
			continue
		}
		q, r := t.Mul(decimal.NewFromInt(int64(weight))).QuoRem(wt, 0)
		shares[i] = models.Money(q.IntPart())
		remainders[i] = r
		allocatedWeight += int64(weight)
		assigned += shares[i]
		candidates = append(candidates, i)
	}

	target := models.Money(t.Mul(decimal.NewFromInt(allocatedWeight)).DivRound(wt, 0).IntPart())
	if target > total {
		target = total
	}

	sort.SliceStable(candidates, func(a, b int) bool {
		return remainders[candidates[a]].GreaterThan(remainders[candidates[b]])
	})
	for k := 0; assigned < target && k < len(candidates); k++ {
		shares[candidates[k]]++
		assigned++
	}

	return shares
}

// SplitEqual divides total into n whole shares; the first total%n shares get one extra unit
func SplitEqual(total models.Money, n int) []models.Money {
	if n <= 0 {
		return nil
	}
	shares := make([]models.Money, n)
	base := total / models.Money(n)
	remainder := total - base*models.Money(n)
	for i := range shares {
		shares[i] = base
		if models.Money(i) < remainder {
			shares[i]++
		}
	}
	return shares
}

// ToMinorUnits converts a decimal amount in major units to minor units
func ToMinorUnits(amount decimal.Decimal, currency string) models.Money {
	return models.Money(amount.Shift(CurrencyExponent(currency)).Round(0).IntPart())
}

// FromMinorUnits converts minor units back to a decimal amount in major units
func FromMinorUnits(amount models.Money, currency string) decimal.Decimal {
	return decimal.NewFromInt(int64(amount)).Shift(-CurrencyExponent(currency))
}

// FormatMoney renders an amount for people, e.g. "IDR 55.000"
func FormatMoney(amount models.Money, currency string) string {
	currency = NormalizeCurrency(currency)
	exp := CurrencyExponent(currency)
	value := FromMinorUnits(amount, currency)

	tag := language.English
	if currency == "IDR" {
		tag = language.Indonesian
	}
	p := message.NewPrinter(tag)
	return currency + " " + p.Sprintf("%v", number.Decimal(value.InexactFloat64(), number.Scale(int(exp))))
}

// ParseAmount reads a loosely formatted amount ("Rp 55.000", "$1,234.50", "12.5")
func ParseAmount(raw string) (decimal.Decimal, error) {
	var b strings.Builder
	for _, r := range raw {
		if (r >= '0' && r <= '9') || r == '.' || r == ',' || r == '-' {
			b.WriteRune(r)
		}
	}
	s := strings.Trim(b.String(), ".,")
	if s == "" || s == "-" {
		return decimal.Zero, fmt.Errorf("no number in %q", raw)
	}

	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastDot > lastComma {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		}
	case lastComma >= 0:
		s = normalizeSingleSeparator(s, ",")
	case lastDot >= 0:
		s = normalizeSingleSeparator(s, ".")
	}

	return decimal.NewFromString(s)
}

// normalizeSingleSeparator decides whether sep groups thousands or marks decimals
func normalizeSingleSeparator(s, sep string) string {
	if strings.Count(s, sep) > 1 || len(s)-strings.LastIndex(s, sep)-1 == 3 {
		return strings.ReplaceAll(s, sep, "")
	}
	return strings.Replace(s, sep, ".", 1)
}
