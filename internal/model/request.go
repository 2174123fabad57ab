package model

type DeployRequest struct {
	Host           string `json:"host"`
	ComposeFile    string `json:"composeFile"`
	SkipMigrations bool   `json:"skipMigrations"`
}

type SSHTestRequest struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
}
