package controllers

import (
	"github.com/go-playground/validator/v10"

	"github.com/xpack-ai/mcpay/app/repository"
	"github.com/xpack-ai/mcpay/internal/pkg/billing"
	"github.com/xpack-ai/mcpay/internal/pkg/payment"
	"github.com/xpack-ai/mcpay/internal/pkg/wallet"
)

// ToolExecutor runs the actual tool call against the upstream service. The
// execution layer lives outside this process; the billing pipeline only
// needs the outcome and token counts.
type ToolExecutor func(serviceID uint, toolName, inputParams string) (output string, inputTokens, outputTokens int64, err error)

// Dependencies are the pipeline services the HTTP handlers drive. Wired once
// at startup via Setup.
type Dependencies struct {
	Repos     *repository.Repositories
	Guard     *billing.Guard
	Publisher *billing.Publisher
	Ledger    *wallet.Ledger
	Monitor   *payment.Monitor
	Executor  ToolExecutor
}

var (
	deps     Dependencies
	validate = validator.New()
)

// Setup installs the handler dependencies.
func Setup(d Dependencies) {
	deps = d
}
