package main

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/acksell/ddbmodel/dynamodb/table"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIdentity struct {
	arn, account string
	err          error
}

func (f fakeIdentity) GetCallerIdentity(context.Context, *sts.GetCallerIdentityInput, ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &sts.GetCallerIdentityOutput{Arn: aws.String(f.arn), Account: aws.String(f.account)}, nil
}

// fakePolicy allows everything except deny, and returns one result per call
// to exercise pagination.
type fakePolicy struct {
	deny  map[string]bool
	calls []*iam.SimulatePrincipalPolicyInput
}

func (f *fakePolicy) SimulatePrincipalPolicy(_ context.Context, in *iam.SimulatePrincipalPolicyInput, _ ...func(*iam.Options)) (*iam.SimulatePrincipalPolicyOutput, error) {
	cp := *in
	f.calls = append(f.calls, &cp)

	i := 0
	if in.Marker != nil {
		i, _ = strconv.Atoi(*in.Marker)
	}
	action := in.ActionNames[i]
	decision := iamtypes.PolicyEvaluationDecisionTypeAllowed
	if f.deny[action] {
		decision = iamtypes.PolicyEvaluationDecisionTypeImplicitDeny
	}
	out := &iam.SimulatePrincipalPolicyOutput{
		EvaluationResults: []iamtypes.EvaluationResult{{EvalActionName: aws.String(action), EvalDecision: decision}},
	}
	if i+1 < len(in.ActionNames) {
		out.IsTruncated = true
		out.Marker = aws.String(strconv.Itoa(i + 1))
	}
	return out, nil
}

var doctorTable = table.TableDefinition{
	Name:           "sessions",
	KeyDefinitions: table.StandardPrimaryKey,
}

func TestDoctor_Check(t *testing.T) {
	ctx := context.Background()

	t.Run("all allowed", func(t *testing.T) {
		var out bytes.Buffer
		policy := &fakePolicy{}
		d := doctor{
			identity: fakeIdentity{arn: "arn:aws:sts::123456789012:assumed-role/dev/alice", account: "123456789012"},
			policy:   policy,
			region:   "eu-west-1",
			out:      &out,
		}
		require.NoError(t, d.check(ctx, doctorTable))

		require.Len(t, policy.calls, len(tableActions))
		first := policy.calls[0]
		assert.Equal(t, "arn:aws:iam::123456789012:role/dev", aws.ToString(first.PolicySourceArn))
		assert.Equal(t, []string{"arn:aws:dynamodb:eu-west-1:123456789012:table/sessions"}, first.ResourceArns)
		assert.Contains(t, out.String(), "dynamodb:BatchWriteItem")
	})

	t.Run("indexes are checked", func(t *testing.T) {
		def := doctorTable
		def.GSIs = []table.IndexDefinition{table.GSI(1)}
		policy := &fakePolicy{deny: map[string]bool{"dynamodb:Scan": true}}
		d := doctor{
			identity: fakeIdentity{arn: "arn:aws:iam::123456789012:user/bob", account: "123456789012"},
			policy:   policy,
			region:   "us-east-1",
			out:      &bytes.Buffer{},
		}
		err := d.check(ctx, def)
		require.ErrorContains(t, err, "2 actions are not allowed")

		last := policy.calls[len(policy.calls)-1]
		assert.Equal(t, []string{"arn:aws:dynamodb:us-east-1:123456789012:table/sessions/index/*"}, last.ResourceArns)
		assert.Equal(t, "arn:aws:iam::123456789012:user/bob", aws.ToString(last.PolicySourceArn))
	})

	t.Run("identity failure", func(t *testing.T) {
		d := doctor{identity: fakeIdentity{err: errors.New("no credentials")}, policy: &fakePolicy{}, out: &bytes.Buffer{}}
		assert.ErrorContains(t, d.check(ctx, doctorTable), "no credentials")
	})
}

func TestPrincipalARN(t *testing.T) {
	tests := map[string]struct {
		caller  string
		want    string
		wantErr bool
	}{
		"iam user":     {caller: "arn:aws:iam::1:user/bob", want: "arn:aws:iam::1:user/bob"},
		"assumed role": {caller: "arn:aws:sts::1:assumed-role/deploy/session", want: "arn:aws:iam::1:role/deploy"},
		"other partition": {
			caller: "arn:aws-cn:sts::1:assumed-role/deploy/s",
			want:   "arn:aws-cn:iam::1:role/deploy",
		},
		"federated user": {caller: "arn:aws:sts::1:federated-user/bob", wantErr: true},
		"garbage":        {caller: "bob", wantErr: true},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := principalARN(tc.caller)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
