package sequence

import "fmt"

// Driver selects the Store backend.
type Driver string

const (
	// DriverFile 单个文本文件，默认
	DriverFile Driver = "file"

	// DriverSQLite SQLite 键值表
	DriverSQLite Driver = "sqlite"

	// DriverMemory 内存模式 - 不持久化，重启后从 1 开始
	DriverMemory Driver = "memory"
)

// ValidDrivers lists every supported store driver.
var ValidDrivers = map[Driver]bool{
	DriverFile:   true,
	DriverSQLite: true,
	DriverMemory: true,
}

// OpenStore creates the store for driver at path.
func OpenStore(driver Driver, path string) (Store, error) {
	if driver == "" {
		driver = DriverFile
	}

	switch driver {
	case DriverFile:
		return NewFileStore(path)
	case DriverSQLite:
		return NewSQLiteStore(path)
	case DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("invalid store driver: %s", driver)
	}
}
