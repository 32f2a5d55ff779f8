package workflow

import (
	"fmt"

	"gorm.io/gorm"
)

// AcquireConfigRunLock serializes run admission per config across instances using MySQL advisory locks.
// NOTE: GET_LOCK is connection-scoped, so this must be called on the same *gorm.DB that will do the admission transaction.
func AcquireConfigRunLock(tx *gorm.DB, configId int) error {
	lockName := fmt.Sprintf("recon:run:%d", configId)
	var ok int
	if err := tx.Raw("SELECT GET_LOCK(?, 30)", lockName).Scan(&ok).Error; err != nil {
		return err
	}
	if ok != 1 {
		return fmt.Errorf("could not acquire run lock for config_id=%d", configId)
	}
	return nil
}

func ReleaseConfigRunLock(tx *gorm.DB, configId int) {
	lockName := fmt.Sprintf("recon:run:%d", configId)
	var _ok int
	_ = tx.Raw("SELECT RELEASE_LOCK(?)", lockName).Scan(&_ok).Error
}
