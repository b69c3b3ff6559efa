package models

// WarehouseTables holds the destination table names for one brand.
type WarehouseTables struct {
	Orders  string `yaml:"orders"`
	Escrow  string `yaml:"escrow"`
	Returns string `yaml:"returns"`
	Wallet  string `yaml:"wallet"`
	AdSpend string `yaml:"ad_spend"`
}

// Brand is one seller account: its upstream identifiers, its credential
// location and its destination tables. Brands sharing one upstream partner
// account carry the same MutexGroup and must not hit that account at the
// same time.
type Brand struct {
	Key           string          `yaml:"key"`
	Name          string          `yaml:"name"`
	ShopID        string          `yaml:"shop_id"`
	PartnerID     string          `yaml:"partner_id"`
	AdvertiserIDs []string        `yaml:"advertiser_ids"`
	MutexGroup    string          `yaml:"mutex_group"`
	Tables        WarehouseTables `yaml:"tables"`
}

// QueueName returns the durable queue this brand's jobs live in.
func (b Brand) QueueName() string {
	return "brand-" + b.Key
}

// CredentialPair is the access/refresh token pair for exactly one brand.
type CredentialPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}
