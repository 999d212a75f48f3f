package identity

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"github.com/yyang42/assembl/cmd/assemblapi/internal/db/models"
)

// MergeAccount folds src into dst. Both must share a signature; the caller
// discards src afterwards.
func MergeAccount(dst, src *models.Account) error {
	if dst.Kind != src.Kind {
		return fmt.Errorf("merge %s account into %s account", src.Kind, dst.Kind)
	}
	switch dst.Kind {
	case models.AccountKindEmail:
		dst.Verified = dst.Verified || src.Verified
		dst.Preferred = dst.Preferred || src.Preferred
	case models.AccountKindIDProvider:
		if len(dst.ProfileInfo) == 0 && len(src.ProfileInfo) > 0 {
			dst.ProfileInfo = src.ProfileInfo
		}
		if dst.PictureURL == "" {
			dst.PictureURL = src.PictureURL
		}
		dst.Verified = dst.Verified || src.Verified
	case models.AccountKindPassword:
		dst.Verified = dst.Verified || src.Verified
	}
	return nil
}

// DisplayName is the human label for an account.
func DisplayName(a *models.Account) string {
	switch a.Kind {
	case models.AccountKindEmail:
		return a.Email
	case models.AccountKindIDProvider:
		if name, ok := a.ProfileInfo["displayName"].(string); ok && name != "" {
			return name
		}
		if a.ProviderUsername != "" {
			return a.ProviderUsername
		}
		return a.ProviderUserID
	case models.AccountKindPassword:
		return a.Login
	default:
		return ""
	}
}

// AvatarURL returns a picture for the account, or "" when the kind has none.
func AvatarURL(a *models.Account, size int) string {
	switch a.Kind {
	case models.AccountKindEmail:
		if a.Email == "" {
			return ""
		}
		sum := md5.Sum([]byte(NormalizeEmail(a.Email)))
		return fmt.Sprintf("https://secure.gravatar.com/avatar/%s?s=%d&d=identicon", hex.EncodeToString(sum[:]), size)
	case models.AccountKindIDProvider:
		return a.PictureURL
	default:
		return ""
	}
}
