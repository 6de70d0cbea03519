package migrations

import (
	"database/sql"
)

// GetInitialMigrations returns the migrations that create the inventory tables
func GetInitialMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_inventory_tables",
			Up: func(tx *sql.Tx) error {
				statements := []string{
					`CREATE TABLE hosts (
						id TEXT PRIMARY KEY,
						name TEXT NOT NULL UNIQUE,
						description TEXT NOT NULL DEFAULT '',
						ip TEXT NOT NULL UNIQUE,
						mac TEXT NOT NULL UNIQUE,
						gateway TEXT NOT NULL DEFAULT '',
						os_user TEXT NOT NULL DEFAULT '',
						os_password TEXT NOT NULL DEFAULT '',
						created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
						updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
					)`,
					`CREATE TABLE gateways (
						id TEXT PRIMARY KEY,
						name TEXT NOT NULL UNIQUE,
						description TEXT NOT NULL DEFAULT '',
						ip TEXT NOT NULL UNIQUE,
						host_id TEXT NOT NULL DEFAULT '',
						clouddisk_enabled INTEGER NOT NULL DEFAULT 0,
						created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
						updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
					)`,
					`CREATE TABLE images (
						id TEXT PRIMARY KEY,
						name TEXT NOT NULL,
						description TEXT NOT NULL DEFAULT '',
						location TEXT NOT NULL,
						cluster TEXT NOT NULL,
						min_size_gb INTEGER NOT NULL,
						managed INTEGER NOT NULL DEFAULT 0,
						created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
						updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
						UNIQUE (name, cluster),
						UNIQUE (location, cluster)
					)`,
					// Disk references are checked by the orchestration layer, which
					// needs to read a gateway after its last disk is gone.
					`CREATE TABLE system_disks (
						id TEXT PRIMARY KEY,
						image_id TEXT NOT NULL,
						gateway_id TEXT NOT NULL,
						gateway_ip TEXT NOT NULL,
						cluster TEXT NOT NULL,
						size_gb INTEGER NOT NULL,
						flatten INTEGER NOT NULL DEFAULT 0,
						pool_path TEXT NOT NULL UNIQUE,
						block_id INTEGER NOT NULL,
						description TEXT NOT NULL DEFAULT '',
						created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
						updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
					)`,
					`CREATE TABLE network_interfaces (
						id TEXT PRIMARY KEY,
						gateway_id TEXT NOT NULL,
						ip TEXT NOT NULL,
						vlan INTEGER NOT NULL DEFAULT 0,
						gateway TEXT NOT NULL DEFAULT '',
						mtu INTEGER NOT NULL DEFAULT 1500,
						mac TEXT NOT NULL UNIQUE,
						dns TEXT NOT NULL DEFAULT '',
						device_id TEXT NOT NULL DEFAULT '',
						description TEXT NOT NULL DEFAULT '',
						created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
						updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
					)`,
				}
				for _, stmt := range statements {
					if _, err := tx.Exec(stmt); err != nil {
						return err
					}
				}
				return nil
			},
			Down: func(tx *sql.Tx) error {
				tables := []string{"network_interfaces", "system_disks", "images", "gateways", "hosts"}
				for _, table := range tables {
					if _, err := tx.Exec("DROP TABLE IF EXISTS " + table); err != nil {
						return err
					}
				}
				return nil
			},
		},
	}
}
