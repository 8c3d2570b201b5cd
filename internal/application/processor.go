package application

import (
	"context"

	"go.uber.org/zap"

	"github.com/relaywing/mediator/internal/domain/assembler"
	"github.com/relaywing/mediator/internal/domain/entity"
	"github.com/relaywing/mediator/internal/infrastructure/llm"
)

// batchProcessor implements queue.Processor: it assembles a flushed batch
// into structured context, calls the LLM client, and commits both the batch
// and any resulting reply into the assembler's bounded history.
type batchProcessor struct {
	assembler *assembler.Assembler
	client    *llm.Client
	logger    *zap.Logger
}

func newBatchProcessor(asm *assembler.Assembler, client *llm.Client, logger *zap.Logger) *batchProcessor {
	return &batchProcessor{assembler: asm, client: client, logger: logger.With(zap.String("component", "batch-processor"))}
}

func (p *batchProcessor) ProcessMessages(contextID string, batch []entity.QueuedMessage) (entity.LLMDecision, error) {
	assembled := p.assembler.Assemble(contextID, batch)

	decision, err := p.client.Generate(context.Background(), assembled.MainContent, assembled.Context)
	if err != nil {
		return entity.LLMDecision{}, err
	}

	p.assembler.CommitBatch(contextID, batch)
	if decision.IsReply() {
		last := batch[len(batch)-1].ReceivedAt
		for _, msg := range decision.Messages {
			p.assembler.CommitReply(contextID, msg, last)
		}
	}
	return decision, nil
}
