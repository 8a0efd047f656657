package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Flow documents, one JSONB row per flow, versioned for
			-- optimistic concurrency control
			CREATE TABLE flows (
				tenant_id VARCHAR(255) NOT NULL,
				id VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL,
				document JSONB NOT NULL,
				version BIGINT NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (tenant_id, id)
			);

			CREATE INDEX idx_flows_status ON flows(status);
			CREATE INDEX idx_flows_tenant_status ON flows(tenant_id, status);
		`,
		2: `
			-- Append-only node execution logs
			CREATE TABLE node_logs (
				id BIGSERIAL PRIMARY KEY,
				tenant_id VARCHAR(255) NOT NULL,
				flow_id VARCHAR(255) NOT NULL,
				node_id VARCHAR(255) NOT NULL,
				line TEXT NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX idx_node_logs_lookup ON node_logs(tenant_id, flow_id, node_id, id);
		`,
	}
}
