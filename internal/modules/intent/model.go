// README: Detected intent signals derived fresh from each message.
package intent

// Intent names a detector signal; the names match the keys of patterns.yaml.
type Intent string

const (
	NoDeposit   Intent = "no_deposit"
	LowestPrice Intent = "lowest_price"
	InstantBook Intent = "instant_book"
	Delivery    Intent = "delivery"
	Luxury      Intent = "luxury"
	Electric    Intent = "electric"
	SUV         Intent = "suv"
	Rideshare   Intent = "rideshare"
)

// All lists intents in the order they are reported.
var All = []Intent{NoDeposit, LowestPrice, InstantBook, Delivery, Luxury, Electric, SUV, Rideshare}

// DetectedIntents is the set of independent signals found in one message. It is never persisted.
type DetectedIntents struct {
	NoDeposit   bool `json:"noDeposit"`
	LowestPrice bool `json:"lowestPrice"`
	InstantBook bool `json:"instantBook"`
	Delivery    bool `json:"delivery"`
	Luxury      bool `json:"luxury"`
	Electric    bool `json:"electric"`
	SUV         bool `json:"suv"`
	Rideshare   bool `json:"rideshare"`
}

func (d *DetectedIntents) set(i Intent) {
	switch i {
	case NoDeposit:
		d.NoDeposit = true
	case LowestPrice:
		d.LowestPrice = true
	case InstantBook:
		d.InstantBook = true
	case Delivery:
		d.Delivery = true
	case Luxury:
		d.Luxury = true
	case Electric:
		d.Electric = true
	case SUV:
		d.SUV = true
	case Rideshare:
		d.Rideshare = true
	}
}

// Has reports whether intent i was detected.
func (d DetectedIntents) Has(i Intent) bool {
	switch i {
	case NoDeposit:
		return d.NoDeposit
	case LowestPrice:
		return d.LowestPrice
	case InstantBook:
		return d.InstantBook
	case Delivery:
		return d.Delivery
	case Luxury:
		return d.Luxury
	case Electric:
		return d.Electric
	case SUV:
		return d.SUV
	case Rideshare:
		return d.Rideshare
	}
	return false
}

// Names returns the detected intents in reporting order.
func (d DetectedIntents) Names() []string {
	var out []string
	for _, i := range All {
		if d.Has(i) {
			out = append(out, string(i))
		}
	}
	return out
}

// Category returns the vehicle category implied by the signals, or "".
// Body style beats powertrain, which beats trim level.
func (d DetectedIntents) Category() string {
	switch {
	case d.SUV:
		return "suv"
	case d.Electric:
		return "electric"
	case d.Luxury:
		return "luxury"
	}
	return ""
}
