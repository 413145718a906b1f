package catalog

import (
	"context"

	"gorm.io/gorm"
)

// DisplayNames maps user ids to their profile usernames. Users without a profile or
// with an empty username are absent from the result.
func DisplayNames(ctx context.Context, db *gorm.DB, userIDs []string) (map[string]string, error) {
	names := make(map[string]string, len(userIDs))
	if len(userIDs) == 0 {
		return names, nil
	}
	var profiles []Profile
	if err := db.WithContext(ctx).Select("id", "username").Where("id IN ?", userIDs).Find(&profiles).Error; err != nil {
		return nil, err
	}
	for _, profile := range profiles {
		if profile.Username != "" {
			names[profile.ID] = profile.Username
		}
	}
	return names, nil
}
