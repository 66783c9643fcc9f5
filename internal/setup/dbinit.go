package setup

import (
	"bytes"
	"text/template"

	"stackup/internal/config"
)

var dbInitTemplate = template.Must(template.New("db-init.sql").Parse(
	`CREATE USER '{{.User}}' IDENTIFIED BY '{{.UserPassword}}';
CREATE USER '{{.ProdUser}}' IDENTIFIED BY '{{.ProdUserPassword}}';
CREATE USER '{{.User}}'@'localhost' IDENTIFIED BY '{{.UserPassword}}';
CREATE USER '{{.ProdUser}}'@'localhost' IDENTIFIED BY '{{.ProdUserPassword}}';
CREATE DATABASE {{.Name}}_development;
CREATE DATABASE {{.Name}}_test;
CREATE DATABASE {{.Name}}_production;
GRANT ALL PRIVILEGES ON {{.Name}}_development.* TO {{.User}};
GRANT ALL PRIVILEGES ON {{.Name}}_test.* TO {{.User}};
GRANT ALL PRIVILEGES ON {{.Name}}_production.* TO {{.ProdUser}};
GRANT ALL PRIVILEGES ON {{.Name}}_development.* TO {{.User}}@'localhost';
GRANT ALL PRIVILEGES ON {{.Name}}_test.* TO {{.User}}@'localhost';
GRANT ALL PRIVILEGES ON {{.Name}}_production.* TO {{.ProdUser}}@'localhost';
FLUSH PRIVILEGES;
`))

// DBInitSQL renders the statements creating the project's users and its
// development, test and production databases.
func DBInitSQL(cfg *config.Config) ([]byte, error) {
	data := struct {
		config.Database
		UserPassword     string
		ProdUserPassword string
	}{
		Database:         cfg.Database,
		UserPassword:     cfg.Credentials.UserPassword,
		ProdUserPassword: cfg.Credentials.ProdUserPassword,
	}
	var buf bytes.Buffer
	if err := dbInitTemplate.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
