// disk_usage.go — получение информации об ёмкости диска.
// Платформозависимый код для Unix-подобных систем.
package layout

import (
	"fmt"
	"syscall"
)

// DiskUsage — ёмкость файловой системы в байтах.
type DiskUsage struct {
	Total     int64
	Used      int64
	Available int64
}

// GetDiskUsage возвращает информацию о дисковом пространстве в директории.
func GetDiskUsage(path string) (DiskUsage, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return DiskUsage{}, fmt.Errorf("ошибка statfs %s: %w", path, err)
	}

	total := int64(stat.Blocks) * int64(stat.Bsize)
	available := int64(stat.Bavail) * int64(stat.Bsize)

	return DiskUsage{
		Total:     total,
		Used:      total - available,
		Available: available,
	}, nil
}

// DiskUsage возвращает ёмкость файловой системы корня хранилища.
func (l *Layout) DiskUsage() (DiskUsage, error) {
	return GetDiskUsage(l.root)
}
