package migrations

import (
	"database/sql"
)

// GetIndexMigrations returns the indices backing the lookups used by the
// provisioning workflows.
func GetIndexMigrations() []Migration {
	return []Migration{
		{
			Version: 2,
			Name:    "add_lookup_indices",
			Up: func(tx *sql.Tx) error {
				indices := []string{
					"CREATE INDEX IF NOT EXISTS idx_gateways_host_id ON gateways(host_id)",
					"CREATE INDEX IF NOT EXISTS idx_system_disks_gateway_id ON system_disks(gateway_id)",
					"CREATE INDEX IF NOT EXISTS idx_system_disks_image_id ON system_disks(image_id)",
					"CREATE INDEX IF NOT EXISTS idx_network_interfaces_gateway_id ON network_interfaces(gateway_id)",
				}

				for _, indexSQL := range indices {
					if _, err := tx.Exec(indexSQL); err != nil {
						return err
					}
				}

				return nil
			},
			Down: func(tx *sql.Tx) error {
				indices := []string{
					"DROP INDEX IF EXISTS idx_gateways_host_id",
					"DROP INDEX IF EXISTS idx_system_disks_gateway_id",
					"DROP INDEX IF EXISTS idx_system_disks_image_id",
					"DROP INDEX IF EXISTS idx_network_interfaces_gateway_id",
				}

				for _, dropSQL := range indices {
					if _, err := tx.Exec(dropSQL); err != nil {
						return err
					}
				}

				return nil
			},
		},
	}
}
