package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE executions (
				id VARCHAR(64) PRIMARY KEY,
				dataset_id VARCHAR(255) NOT NULL,
				ecloud_dataset_id VARCHAR(255) NOT NULL,
				status VARCHAR(20) NOT NULL CHECK (status IN ('INQUEUE', 'RUNNING', 'FINISHED', 'FAILED', 'CANCELLED')),
				cancelling BOOLEAN NOT NULL DEFAULT FALSE,
				priority SMALLINT NOT NULL DEFAULT 0,
				claimed_by VARCHAR(255) NOT NULL DEFAULT '',
				plugins JSONB NOT NULL,
				created_date TIMESTAMP WITH TIME ZONE NOT NULL,
				started_date TIMESTAMP WITH TIME ZONE,
				updated_date TIMESTAMP WITH TIME ZONE,
				finished_date TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_executions_status_updated ON executions(status, updated_date);
			CREATE INDEX idx_executions_dataset ON executions(dataset_id);
		`,
		2: `
			-- At most one INQUEUE or RUNNING execution per dataset
			CREATE UNIQUE INDEX idx_executions_dataset_active
				ON executions(dataset_id)
				WHERE status IN ('INQUEUE', 'RUNNING');
		`,
	}
}
