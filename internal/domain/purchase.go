package domain

type PurchaseType string

const (
	PurchaseTypeCoupon PurchaseType = "coupon"
	PurchaseTypeLink   PurchaseType = "link"
)

func (t PurchaseType) Valid() bool {
	return t == PurchaseTypeCoupon || t == PurchaseTypeLink
}

type PurchaseStatus string

const (
	StatusApproved PurchaseStatus = "approved"
	StatusPending  PurchaseStatus = "pending"
	StatusRejected PurchaseStatus = "rejected"
	StatusPaid     PurchaseStatus = "paid"
)

type CustomerType string

const (
	CustomerNew       CustomerType = "new"
	CustomerReturning CustomerType = "returning"
	CustomerUnknown   CustomerType = "unknown"
)

const (
	UnknownCampaignName = "Unknown Campaign"
	UnknownCountry      = "NA"
)

// NormalizedPurchase is one purchase event in the cross-network schema.
// OrderValue and Revenue are already converted to the reporting currency
// when a known rate applied; Currency is always the network's original code.
type NormalizedPurchase struct {
	CampaignID     string         `json:"campaign_id"`
	CampaignName   string         `json:"campaign_name"`
	Code           string         `json:"code"`
	PurchaseType   PurchaseType   `json:"purchase_type"`
	Country        string         `json:"country"`
	OrderID        string         `json:"order_id,omitempty"`
	NetworkOrderID string         `json:"network_order_id,omitempty"`
	OrderValue     float64        `json:"sales_amount"`
	Revenue        float64        `json:"revenue"`
	Quantity       int            `json:"quantity"`
	CustomerType   CustomerType   `json:"customer_type"`
	Status         PurchaseStatus `json:"status"`
	OrderDate      string         `json:"order_date"`
	Currency       string         `json:"currency"`
	ConvertedTo    string         `json:"converted_to,omitempty"`
}

// DedupKey identifies the purchase for the sink, preferring the network id.
func (p NormalizedPurchase) DedupKey() string {
	if p.NetworkOrderID != "" {
		return "n:" + p.NetworkOrderID
	}
	if p.OrderID != "" {
		return "o:" + p.OrderID
	}
	return ""
}

type RecordSet struct {
	Campaigns int                  `json:"campaigns"`
	Coupons   int                  `json:"coupons"`
	Purchases int                  `json:"purchases"`
	Total     int                  `json:"total"`
	Data      []NormalizedPurchase `json:"data"`
}

// BuildRecordSet counts distinct campaigns and codes. Purchases sums
// quantities, Total is the number of records.
func BuildRecordSet(purchases []NormalizedPurchase) RecordSet {
	campaigns := make(map[string]struct{})
	codes := make(map[string]struct{})
	set := RecordSet{Data: purchases}
	if set.Data == nil {
		set.Data = []NormalizedPurchase{}
	}

	for _, p := range purchases {
		key := p.CampaignID
		if key == "" {
			key = "name:" + p.CampaignName
		}
		campaigns[key] = struct{}{}
		if p.Code != "" {
			codes[key+"|"+p.Code] = struct{}{}
		}
		set.Purchases += p.Quantity
	}

	set.Campaigns = len(campaigns)
	set.Coupons = len(codes)
	set.Total = len(purchases)
	return set
}
