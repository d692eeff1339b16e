package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Create workflow instances table
			CREATE TABLE workflow_instances (
				id UUID PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('pending', 'running', 'completed', 'failed', 'cancelled')),
				metadata JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				started_at TIMESTAMP WITH TIME ZONE,
				ended_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_workflow_instances_status ON workflow_instances(status);
			CREATE INDEX idx_workflow_instances_created_at ON workflow_instances(created_at);

			-- Create instance tasks table; position preserves task order
			CREATE TABLE instance_tasks (
				instance_id UUID NOT NULL REFERENCES workflow_instances(id) ON DELETE CASCADE,
				id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				task_type VARCHAR(50) NOT NULL,
				target VARCHAR(255),
				action VARCHAR(255),
				params JSONB,
				retries INT NOT NULL DEFAULT 0,
				status VARCHAR(50) NOT NULL,
				error TEXT,
				result JSONB,
				started_at TIMESTAMP WITH TIME ZONE,
				finished_at TIMESTAMP WITH TIME ZONE,
				position INT NOT NULL,
				PRIMARY KEY (instance_id, id)
			);

			CREATE INDEX idx_instance_tasks_instance_id ON instance_tasks(instance_id);
			CREATE INDEX idx_instance_tasks_status ON instance_tasks(status);
		`,
		2: `
			-- Create rule evaluations table
			CREATE TABLE rule_evaluations (
				id UUID PRIMARY KEY,
				rule_id VARCHAR(255) NOT NULL,
				event VARCHAR(255) NOT NULL,
				source VARCHAR(255),
				payload JSONB,
				condition_met BOOLEAN NOT NULL,
				success BOOLEAN NOT NULL,
				error TEXT,
				duration_ms BIGINT NOT NULL,
				evaluated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_rule_evaluations_rule_id ON rule_evaluations(rule_id);
			CREATE INDEX idx_rule_evaluations_event ON rule_evaluations(event);
			CREATE INDEX idx_rule_evaluations_evaluated_at ON rule_evaluations(evaluated_at);
		`,
	}
}
