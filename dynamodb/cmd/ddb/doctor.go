package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/acksell/ddbmodel/dynamodb/table"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// tableActions are the DynamoDB actions the client issues against a table.
// Transactions are authorized per contained item action.
var tableActions = []string{
	"dynamodb:GetItem",
	"dynamodb:PutItem",
	"dynamodb:UpdateItem",
	"dynamodb:DeleteItem",
	"dynamodb:ConditionCheckItem",
	"dynamodb:Query",
	"dynamodb:Scan",
	"dynamodb:BatchGetItem",
	"dynamodb:BatchWriteItem",
}

// indexActions are the actions that can target a secondary index.
var indexActions = []string{
	"dynamodb:Query",
	"dynamodb:Scan",
}

type identityAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

type policyAPI interface {
	SimulatePrincipalPolicy(ctx context.Context, params *iam.SimulatePrincipalPolicyInput, optFns ...func(*iam.Options)) (*iam.SimulatePrincipalPolicyOutput, error)
}

func runDoctor(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var o options
	o.registerSchema(fs, cfg)
	o.registerAWS(fs, cfg)
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), `ddb doctor - Check that the AWS identity may use the table

Usage:
  ddb doctor [--table NAME] [--region REGION] [--profile PROFILE]

Resolves the caller with STS, then asks IAM to simulate every DynamoDB action
the client issues against the table and its indexes.

Flags:`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, _, err := o.loadSchema()
	if err != nil {
		return err
	}
	ts, err := o.tableSchema(s)
	if err != nil {
		return err
	}
	awsCfg, err := o.awsConfig(ctx)
	if err != nil {
		return err
	}
	if awsCfg.Region == "" {
		return errors.New("no AWS region configured; pass --region")
	}

	d := doctor{
		identity: sts.NewFromConfig(awsCfg),
		policy:   iam.NewFromConfig(awsCfg),
		region:   awsCfg.Region,
		out:      stdout,
	}
	return d.check(ctx, ts.Definition())
}

type doctor struct {
	identity identityAPI
	policy   policyAPI
	region   string
	out      io.Writer
}

func (d doctor) check(ctx context.Context, def table.TableDefinition) error {
	who, err := d.identity.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return fmt.Errorf("resolve caller identity: %w", err)
	}
	callerARN := aws.ToString(who.Arn)
	fmt.Fprintf(d.out, "identity  %s\n", callerARN)

	principal, err := principalARN(callerARN)
	if err != nil {
		return err
	}
	tableARN, err := tableARN(callerARN, d.region, aws.ToString(who.Account), def.Name)
	if err != nil {
		return err
	}
	fmt.Fprintf(d.out, "table     %s\n", tableARN)

	denied, err := d.simulate(ctx, principal, tableARN, tableActions)
	if err != nil {
		return err
	}
	if len(def.GSIs)+len(def.LSIs) > 0 {
		n, err := d.simulate(ctx, principal, tableARN+"/index/*", indexActions)
		if err != nil {
			return err
		}
		denied += n
	}
	if denied > 0 {
		return fmt.Errorf("%d actions are not allowed for %s", denied, principal)
	}
	return nil
}

// simulate prints the decision for each action on resource and returns how
// many were not allowed.
func (d doctor) simulate(ctx context.Context, principal, resource string, actions []string) (int, error) {
	in := &iam.SimulatePrincipalPolicyInput{
		PolicySourceArn: aws.String(principal),
		ActionNames:     actions,
		ResourceArns:    []string{resource},
	}
	var denied int
	for {
		out, err := d.policy.SimulatePrincipalPolicy(ctx, in)
		if err != nil {
			return denied, fmt.Errorf("simulate policy on %s: %w", resource, err)
		}
		for _, r := range out.EvaluationResults {
			if r.EvalDecision != iamtypes.PolicyEvaluationDecisionTypeAllowed {
				denied++
			}
			fmt.Fprintf(d.out, "%-13s %-28s %s\n", r.EvalDecision, aws.ToString(r.EvalActionName), resource)
		}
		if !out.IsTruncated {
			return denied, nil
		}
		in.Marker = out.Marker
	}
}

// principalARN turns an STS caller ARN into the IAM ARN policies are
// attached to. Assumed roles map to their role; role paths are not
// recoverable from the session ARN.
func principalARN(caller string) (string, error) {
	parts := strings.SplitN(caller, ":", 6)
	if len(parts) != 6 || parts[0] != "arn" {
		return "", fmt.Errorf("malformed caller ARN %q", caller)
	}
	partition, service, account, resource := parts[1], parts[2], parts[4], parts[5]
	if service == "iam" {
		return caller, nil
	}
	if service != "sts" {
		return "", fmt.Errorf("unsupported caller ARN %q", caller)
	}
	kind, rest, _ := strings.Cut(resource, "/")
	if kind != "assumed-role" {
		return "", fmt.Errorf("cannot simulate policies for %s principals", kind)
	}
	role, _, ok := strings.Cut(rest, "/")
	if !ok || role == "" {
		return "", fmt.Errorf("malformed assumed-role ARN %q", caller)
	}
	return fmt.Sprintf("arn:%s:iam::%s:role/%s", partition, account, role), nil
}

func tableARN(caller, region, account, name string) (string, error) {
	partition, _, ok := strings.Cut(strings.TrimPrefix(caller, "arn:"), ":")
	if !ok || partition == "" {
		return "", fmt.Errorf("malformed caller ARN %q", caller)
	}
	return fmt.Sprintf("arn:%s:dynamodb:%s:%s:table/%s", partition, region, account, name), nil
}
