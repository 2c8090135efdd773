package execution

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/nishad/seqlims/internal/errors"
)

// WorkflowService validates and runs installed workflows.
type WorkflowService struct {
	client *Client
}

// NewWorkflowService returns a workflow service over client.
func NewWorkflowService(client *Client) *WorkflowService {
	return &WorkflowService{client: client}
}

// WorkflowChecksum returns the hex SHA-256 of the workflow definition the
// engine holds for workflowID.
func (s *WorkflowService) WorkflowChecksum(ctx context.Context, workflowID string) (string, error) {
	const op errors.Op = "execution.WorkflowService.WorkflowChecksum"

	req, err := s.client.newRequest(ctx, http.MethodGet, s.client.endpoint("workflows", workflowID, "download"), nil, "")
	if err != nil {
		return "", errors.E(op, errors.KindExecutionManager, err)
	}
	resp, err := s.client.httpClient.Do(req)
	if err != nil {
		return "", errors.E(op, errors.KindExecutionManager, err, "engine request failed")
	}
	defer resp.Body.Close()
	if err := checkStatus(op, resp); err != nil {
		return "", err
	}

	h := sha256.New()
	if _, err := io.Copy(h, resp.Body); err != nil {
		return "", errors.E(op, errors.KindExecutionManager, err, "reading workflow definition")
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ValidateWorkflowByChecksum fails with KindWorkflowChecksum when the
// workflow installed as workflowID does not match checksum.
func (s *WorkflowService) ValidateWorkflowByChecksum(ctx context.Context, checksum, workflowID string) error {
	const op errors.Op = "execution.WorkflowService.ValidateWorkflowByChecksum"

	actual, err := s.WorkflowChecksum(ctx, workflowID)
	if err != nil {
		return errors.Wrap(op, err)
	}
	if !strings.EqualFold(actual, strings.TrimSpace(checksum)) {
		return errors.E(op, errors.KindWorkflowChecksum,
			fmt.Sprintf("workflow %s has checksum %s, expected %s", workflowID, actual, checksum))
	}
	return nil
}

// RunWorkflow invokes the workflow named in inputs. Engine rejections fail
// with KindWorkflow.
func (s *WorkflowService) RunWorkflow(ctx context.Context, inputs *WorkflowInputs) (*WorkflowOutputs, error) {
	const op errors.Op = "execution.WorkflowService.RunWorkflow"

	if inputs == nil || inputs.WorkflowID == "" || inputs.HistoryID == "" {
		return nil, errors.E(op, errors.KindWorkflow, "workflow inputs need a workflow and a history")
	}
	var out WorkflowOutputs
	err := s.client.doJSON(ctx, op, http.MethodPost, s.client.endpoint("workflows", inputs.WorkflowID, "invocations"), inputs, &out)
	if err != nil {
		if errors.IsKind(err, errors.KindExecutionManager) {
			return nil, errors.E(op, errors.KindWorkflow, err, "running workflow "+inputs.WorkflowID)
		}
		return nil, err
	}
	if out.HistoryID == "" {
		out.HistoryID = inputs.HistoryID
	}
	return &out, nil
}
