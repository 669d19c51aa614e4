// Package views holds the server-rendered admin pages.
package views

//go:generate templ generate

import "streamvault/internal/services"

type DashboardProps struct {
	Title     string
	UserEmail string
	Metrics   services.FunnelMetrics
}

// StatCard is one headline counter on the dashboard.
type StatCard struct {
	Label string
	Value int
}

func StatCards(m services.FunnelMetrics) []StatCard {
	return []StatCard{
		{Label: "Total Events", Value: m.TotalEvents},
		{Label: "Last Hour", Value: m.LastHour},
		{Label: "Last 24h", Value: m.Last24h},
	}
}

// FunnelStep is one row of the conversion funnel with its share of page views.
type FunnelStep struct {
	Label   string
	Count   int
	Percent float64
}

// FunnelSteps orders the funnel from first touch to payment.
func FunnelSteps(f services.ConversionFunnel) []FunnelStep {
	steps := []FunnelStep{
		{Label: "Page Views", Count: f.PageViews},
		{Label: "Age Gate Passed", Count: f.AgeGatePassed},
		{Label: "Social Proof Seen", Count: f.SocialProofSeen},
		{Label: "Overlay Opened", Count: f.OverlayOpened},
		{Label: "Plan Selected", Count: f.PlanSelected},
		{Label: "Credit Used", Count: f.CreditUsed},
		{Label: "Pix Generated", Count: f.PixGenerated},
		{Label: "Payment Completed", Count: f.PaymentCompleted},
	}

	total := f.PageViews
	if total == 0 {
		total = 1
	}
	for i := range steps {
		steps[i].Percent = float64(steps[i].Count) * 100 / float64(total)
	}
	return steps
}
