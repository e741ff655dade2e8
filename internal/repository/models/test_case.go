package models

type TestCase struct {
	Order          int    `json:"order"`
	InputData      string `json:"input"`
	ExpectedOutput string `json:"output"`
}
