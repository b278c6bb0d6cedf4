package rdb

// SchemaVersion is the table layout this build reads and writes. A store
// initialized with a different version is refused at Attach.
const SchemaVersion = 1

// Table names.
const (
	tableStudies            = "studies"
	tableStudyUserAttrs     = "study_user_attributes"
	tableTrials             = "trials"
	tableParamDistributions = "trial_param_distributions"
	tableTrialParams        = "trial_params"
	tableTrialValues        = "trial_values"
	tableVersionInfo        = "version_info"
)

// sqliteDDL lists the CREATE statements for sqlite in dependency order.
var sqliteDDL = []string{
	`CREATE TABLE IF NOT EXISTS studies (
    study_id INTEGER PRIMARY KEY AUTOINCREMENT,
    study_uuid TEXT NOT NULL UNIQUE
)`,
	`CREATE TABLE IF NOT EXISTS study_user_attributes (
    study_user_attribute_id INTEGER PRIMARY KEY AUTOINCREMENT,
    study_id INTEGER NOT NULL REFERENCES studies(study_id),
    attr_key TEXT NOT NULL,
    value_json TEXT NOT NULL,
    UNIQUE (study_id, attr_key)
)`,
	`CREATE TABLE IF NOT EXISTS trials (
    trial_id INTEGER PRIMARY KEY AUTOINCREMENT,
    study_id INTEGER NOT NULL REFERENCES studies(study_id),
    state TEXT NOT NULL,
    value REAL,
    user_attributes_json TEXT NOT NULL,
    datetime_start TEXT NOT NULL,
    datetime_complete TEXT
)`,
	`CREATE INDEX IF NOT EXISTS idx_trials_study ON trials(study_id)`,
	`CREATE TABLE IF NOT EXISTS trial_param_distributions (
    param_distribution_id INTEGER PRIMARY KEY AUTOINCREMENT,
    trial_id INTEGER NOT NULL REFERENCES trials(trial_id),
    param_name TEXT NOT NULL,
    distribution_json TEXT NOT NULL,
    UNIQUE (trial_id, param_name)
)`,
	`CREATE TABLE IF NOT EXISTS trial_params (
    param_id INTEGER PRIMARY KEY AUTOINCREMENT,
    trial_id INTEGER NOT NULL REFERENCES trials(trial_id),
    param_distribution_id INTEGER NOT NULL REFERENCES trial_param_distributions(param_distribution_id),
    param_value REAL NOT NULL,
    UNIQUE (trial_id, param_distribution_id)
)`,
	`CREATE TABLE IF NOT EXISTS trial_values (
    trial_value_id INTEGER PRIMARY KEY AUTOINCREMENT,
    trial_id INTEGER NOT NULL REFERENCES trials(trial_id),
    step INTEGER NOT NULL,
    value REAL NOT NULL,
    UNIQUE (trial_id, step)
)`,
	`CREATE TABLE IF NOT EXISTS version_info (
    version_info_id INTEGER PRIMARY KEY CHECK (version_info_id = 1),
    schema_version INTEGER NOT NULL,
    library_version TEXT NOT NULL
)`,
}

// postgresDDL lists the CREATE statements for postgres in dependency order.
var postgresDDL = []string{
	`CREATE TABLE IF NOT EXISTS studies (
    study_id BIGSERIAL PRIMARY KEY,
    study_uuid VARCHAR(255) NOT NULL UNIQUE
)`,
	`CREATE TABLE IF NOT EXISTS study_user_attributes (
    study_user_attribute_id BIGSERIAL PRIMARY KEY,
    study_id BIGINT NOT NULL REFERENCES studies(study_id),
    attr_key VARCHAR(255) NOT NULL,
    value_json TEXT NOT NULL,
    UNIQUE (study_id, attr_key)
)`,
	`CREATE TABLE IF NOT EXISTS trials (
    trial_id BIGSERIAL PRIMARY KEY,
    study_id BIGINT NOT NULL REFERENCES studies(study_id),
    state VARCHAR(16) NOT NULL,
    value DOUBLE PRECISION,
    user_attributes_json TEXT NOT NULL,
    datetime_start VARCHAR(40) NOT NULL,
    datetime_complete VARCHAR(40)
)`,
	`CREATE INDEX IF NOT EXISTS idx_trials_study ON trials(study_id)`,
	`CREATE TABLE IF NOT EXISTS trial_param_distributions (
    param_distribution_id BIGSERIAL PRIMARY KEY,
    trial_id BIGINT NOT NULL REFERENCES trials(trial_id),
    param_name VARCHAR(255) NOT NULL,
    distribution_json TEXT NOT NULL,
    UNIQUE (trial_id, param_name)
)`,
	`CREATE TABLE IF NOT EXISTS trial_params (
    param_id BIGSERIAL PRIMARY KEY,
    trial_id BIGINT NOT NULL REFERENCES trials(trial_id),
    param_distribution_id BIGINT NOT NULL REFERENCES trial_param_distributions(param_distribution_id),
    param_value DOUBLE PRECISION NOT NULL,
    UNIQUE (trial_id, param_distribution_id)
)`,
	`CREATE TABLE IF NOT EXISTS trial_values (
    trial_value_id BIGSERIAL PRIMARY KEY,
    trial_id BIGINT NOT NULL REFERENCES trials(trial_id),
    step BIGINT NOT NULL,
    value DOUBLE PRECISION NOT NULL,
    UNIQUE (trial_id, step)
)`,
	`CREATE TABLE IF NOT EXISTS version_info (
    version_info_id INTEGER PRIMARY KEY CHECK (version_info_id = 1),
    schema_version INTEGER NOT NULL,
    library_version VARCHAR(255) NOT NULL
)`,
}

// mysqlDDL lists the CREATE statements for mysql in dependency order.
// Foreign keys index their columns, so trials(study_id) needs no extra index.
var mysqlDDL = []string{
	`CREATE TABLE IF NOT EXISTS studies (
    study_id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
    study_uuid VARCHAR(255) NOT NULL UNIQUE
) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS study_user_attributes (
    study_user_attribute_id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
    study_id BIGINT NOT NULL,
    attr_key VARCHAR(255) NOT NULL,
    value_json TEXT NOT NULL,
    UNIQUE (study_id, attr_key),
    FOREIGN KEY (study_id) REFERENCES studies(study_id)
) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS trials (
    trial_id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
    study_id BIGINT NOT NULL,
    state VARCHAR(16) NOT NULL,
    value DOUBLE,
    user_attributes_json TEXT NOT NULL,
    datetime_start VARCHAR(40) NOT NULL,
    datetime_complete VARCHAR(40),
    FOREIGN KEY (study_id) REFERENCES studies(study_id)
) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS trial_param_distributions (
    param_distribution_id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
    trial_id BIGINT NOT NULL,
    param_name VARCHAR(255) NOT NULL,
    distribution_json TEXT NOT NULL,
    UNIQUE (trial_id, param_name),
    FOREIGN KEY (trial_id) REFERENCES trials(trial_id)
) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS trial_params (
    param_id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
    trial_id BIGINT NOT NULL,
    param_distribution_id BIGINT NOT NULL,
    param_value DOUBLE NOT NULL,
    UNIQUE (trial_id, param_distribution_id),
    FOREIGN KEY (trial_id) REFERENCES trials(trial_id),
    FOREIGN KEY (param_distribution_id) REFERENCES trial_param_distributions(param_distribution_id)
) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS trial_values (
    trial_value_id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
    trial_id BIGINT NOT NULL,
    step BIGINT NOT NULL,
    value DOUBLE NOT NULL,
    UNIQUE (trial_id, step),
    FOREIGN KEY (trial_id) REFERENCES trials(trial_id)
) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS version_info (
    version_info_id INT NOT NULL PRIMARY KEY CHECK (version_info_id = 1),
    schema_version INT NOT NULL,
    library_version VARCHAR(255) NOT NULL
) ENGINE=InnoDB`,
}

// SchemaDDL returns the CREATE statements for a backend, each terminated by
// a semicolon. Used by the schema command.
func SchemaDDL(backend string) ([]string, error) {
	d, err := dialectFor(backend)
	if err != nil {
		return nil, err
	}
	stmts := d.ddl()
	out := make([]string, len(stmts))
	for i, s := range stmts {
		out[i] = s + ";"
	}
	return out, nil
}
