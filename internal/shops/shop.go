package shops

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// ShopNotFoundError represents an error when a shop is not found
type ShopNotFoundError struct {
	Domain string
}

func (e *ShopNotFoundError) Error() string {
	return fmt.Sprintf("shop not found for domain: %s", e.Domain)
}

// NewShopNotFoundError creates a new ShopNotFoundError
func NewShopNotFoundError(domain string) *ShopNotFoundError {
	return &ShopNotFoundError{Domain: domain}
}

// Shop represents a merchant storefront (tenant) served by the popup engine
type Shop struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Domain    string    `gorm:"unique;not null" json:"domain"` // Base domain, e.g., "example.com"
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// GetShopByDomain retrieves a Shop entry by exact domain match.
// It accepts a transaction to be used as part of a larger transaction process.
func GetShopByDomain(tx *gorm.DB, domain string) (*Shop, error) {
	var shop Shop
	if err := tx.Where("domain = ?", domain).First(&shop).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, NewShopNotFoundError(domain)
		}
		return nil, fmt.Errorf("unexpected error querying shop: %w", err)
	}
	return &shop, nil
}

// CreateShop registers a new shop for the given base domain.
func CreateShop(db *gorm.DB, domain, name string) (*Shop, error) {
	shop := &Shop{Domain: BaseDomainForHost(domain), Name: name}
	if err := db.Create(shop).Error; err != nil {
		return nil, fmt.Errorf("failed to create shop: %w", err)
	}
	return shop, nil
}

// BaseDomainForHost returns the canonical base domain for a hostname, preserving localhost
// semantics while collapsing known subdomain patterns (e.g. store.example.com -> example.com).
func BaseDomainForHost(host string) string {
	return stripSubdomains(host)
}

// stripSubdomains extracts the base domain from a hostname
func stripSubdomains(host string) string {
	parts := strings.Split(strings.ToLower(host), ".")
	if len(parts) < 2 {
		return host // e.g., "localhost" -> "localhost"
	}

	// Special case for localhost subdomains (e.g., "shop.localhost" -> "localhost")
	lastPart := parts[len(parts)-1]
	if lastPart == "localhost" {
		return "localhost"
	}

	secondLast := parts[len(parts)-2]

	// ccTLDs that use a two-part structure and need three parts kept
	ccTLDPatterns := map[string]bool{
		"co.uk":  true,
		"co.jp":  true,
		"co.za":  true,
		"co.nz":  true,
		"co.in":  true,
		"com.au": true,
		"com.br": true,
		"org.uk": true,
		"gov.uk": true,
		"edu.au": true,
		"ac.uk":  true,
		"ne.jp":  true,
		"or.jp":  true,
	}

	if len(parts) > 2 {
		twoPartTLD := fmt.Sprintf("%s.%s", secondLast, lastPart)
		if ccTLDPatterns[twoPartTLD] {
			thirdLast := parts[len(parts)-3]
			return fmt.Sprintf("%s.%s.%s", thirdLast, secondLast, lastPart) // e.g., "example.co.uk"
		}
	}

	return fmt.Sprintf("%s.%s", secondLast, lastPart) // e.g., "example.com"
}
