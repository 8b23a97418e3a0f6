package models

import (
	"time"

	"gorm.io/gorm"
)

// SchedulerLock represents a distributed lock for scheduled tasks
type SchedulerLock struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	LockName  string    `gorm:"uniqueIndex:idx_lock_name_key;size:100;not null" json:"lock_name"`
	LockKey   string    `gorm:"uniqueIndex:idx_lock_name_key;size:200;not null" json:"lock_key"`
	LockedBy  string    `gorm:"size:100" json:"locked_by"`
	LockedAt  time.Time `json:"locked_at"`
	ExpiresAt time.Time `gorm:"index" json:"expires_at"`
}

func (SchedulerLock) TableName() string { return "scheduler_locks" }

// TryAcquireLock takes (name, key) for owner until now+ttl. An expired lock
// or one already held by owner is taken over. Returns false when another
// owner holds a live lock.
func TryAcquireLock(db *gorm.DB, name, key, owner string, ttl time.Duration, now time.Time) (bool, error) {
	expires := now.Add(ttl)

	result := db.Model(&SchedulerLock{}).
		Where("lock_name = ? AND lock_key = ?", name, key).
		Where("expires_at < ? OR locked_by = ?", now, owner).
		Updates(map[string]interface{}{
			"locked_by":  owner,
			"locked_at":  now,
			"expires_at": expires,
		})
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected > 0 {
		return true, nil
	}

	var count int64
	if err := db.Model(&SchedulerLock{}).
		Where("lock_name = ? AND lock_key = ?", name, key).
		Count(&count).Error; err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}

	lock := SchedulerLock{
		LockName:  name,
		LockKey:   key,
		LockedBy:  owner,
		LockedAt:  now,
		ExpiresAt: expires,
	}
	if err := db.Create(&lock).Error; err != nil {
		// a row that appeared since the count means another owner won the
		// insert race; anything else is a real store failure
		var raced int64
		if countErr := db.Model(&SchedulerLock{}).
			Where("lock_name = ? AND lock_key = ?", name, key).
			Count(&raced).Error; countErr == nil && raced > 0 {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// RenewLock pushes the expiry of a lock owner still holds to now+ttl.
// Returns false when the lock was lost (expired and taken over, or released).
func RenewLock(db *gorm.DB, name, key, owner string, ttl time.Duration, now time.Time) (bool, error) {
	result := db.Model(&SchedulerLock{}).
		Where("lock_name = ? AND lock_key = ? AND locked_by = ?", name, key, owner).
		Update("expires_at", now.Add(ttl))
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ReleaseLock drops the lock if owner still holds it.
func ReleaseLock(db *gorm.DB, name, key, owner string) error {
	return db.Where("lock_name = ? AND lock_key = ? AND locked_by = ?", name, key, owner).
		Delete(&SchedulerLock{}).Error
}
