package store

import (
	"fmt"
	"math"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"iapkeeper/internal/models"
)

// Price helpers read the live catalog only. Each returns false when a
// product is missing from it.

func (s *Service) printer() *message.Printer {
	tag, err := language.Parse(s.cfg.Locale)
	if err != nil {
		tag = language.AmericanEnglish
	}
	return message.NewPrinter(tag)
}

// formatMinor renders an amount given in minor units of code.
func (s *Service) formatMinor(minor float64, code string) (string, bool) {
	unit, err := currency.ParseISO(code)
	if err != nil {
		s.logger.Errorf("store: unknown currency %q: %v", code, err)
		return "", false
	}
	scale, _ := currency.Standard.Rounding(unit)
	amount := minor / math.Pow10(scale)
	return s.printer().Sprint(currency.Symbol(unit.Amount(amount))), true
}

func (s *Service) catalogProducts(items []models.Purchasable) ([]models.Product, bool) {
	out := make([]models.Product, 0, len(items))
	for _, it := range items {
		p, ok := s.state.Product(it.BundleID)
		if !ok {
			s.logger.Errorf("store: product %s could not be found", it.BundleID)
			return nil, false
		}
		out = append(out, p)
	}
	return out, true
}

func (s *Service) GetPriceFormatted(item models.Purchasable) (string, bool) {
	ps, ok := s.catalogProducts([]models.Purchasable{item})
	if !ok {
		return "", false
	}
	if ps[0].DisplayPrice != "" {
		return ps[0].DisplayPrice, true
	}
	return s.formatMinor(float64(ps[0].PriceMinor), ps[0].Currency)
}

// totalMinor sums prices; every product must share one currency.
func totalMinor(ps []models.Product) (int64, string, bool) {
	if len(ps) == 0 {
		return 0, "", false
	}
	code := ps[0].Currency
	var sum int64
	for _, p := range ps {
		if p.Currency != code {
			return 0, "", false
		}
		sum += p.PriceMinor
	}
	return sum, code, true
}

// GetTotalPrice formats the sum of the items' prices.
func (s *Service) GetTotalPrice(items []models.Purchasable) (string, bool) {
	ps, ok := s.catalogProducts(items)
	if !ok {
		return "", false
	}
	sum, code, ok := totalMinor(ps)
	if !ok {
		return "", false
	}
	return s.formatMinor(float64(sum), code)
}

// ComparePrice compares the total of items with a single comparison item. It
// returns the absolute difference and the saving of the comparison item
// relative to the total, e.g. "25%".
func (s *Service) ComparePrice(items []models.Purchasable, comparison models.Purchasable) (string, string, bool) {
	ps, ok := s.catalogProducts(append(append([]models.Purchasable(nil), items...), comparison))
	if !ok {
		return "", "", false
	}
	cmp := ps[len(ps)-1]
	total, code, ok := totalMinor(ps[:len(ps)-1])
	if !ok || cmp.Currency != code {
		return "", "", false
	}
	diff := total - cmp.PriceMinor
	if diff < 0 {
		diff = -diff
	}
	var pct float64
	if total > 0 {
		pct = 100 - float64(cmp.PriceMinor)/float64(total)*100
	}
	diffStr, ok := s.formatMinor(float64(diff), code)
	if !ok {
		return "", "", false
	}
	return diffStr, fmt.Sprintf("%.0f%%", pct), true
}

// GetDividedPrice formats the item's price divided by divisor, e.g. the
// weekly cost of a yearly plan.
func (s *Service) GetDividedPrice(item models.Purchasable, divisor int) (string, bool) {
	if divisor <= 0 {
		return "", false
	}
	ps, ok := s.catalogProducts([]models.Purchasable{item})
	if !ok {
		return "", false
	}
	return s.formatMinor(float64(ps[0].PriceMinor)/float64(divisor), ps[0].Currency)
}

// CompareSubscriptionSavings converts both subscriptions to a weekly cost and
// returns how much cheaper the cheaper one is, as a percentage.
func (s *Service) CompareSubscriptionSavings(a, b models.SubscriptionItem) (string, bool) {
	ps, ok := s.catalogProducts([]models.Purchasable{a.Purchasable, b.Purchasable})
	if !ok {
		return "", false
	}
	wa, wb := a.Period.WeeksPerPeriod(), b.Period.WeeksPerPeriod()
	if wa == 0 || wb == 0 {
		s.logger.Errorf("store: unknown subscription period")
		return "", false
	}
	weeklyA := float64(ps[0].PriceMinor) / float64(wa)
	weeklyB := float64(ps[1].PriceMinor) / float64(wb)
	expensive, cheaper := math.Max(weeklyA, weeklyB), math.Min(weeklyA, weeklyB)
	if expensive <= 0 {
		s.logger.Errorf("store: invalid subscription price found")
		return "", false
	}
	return fmt.Sprintf("%.0f%%", (expensive-cheaper)/expensive*100), true
}
