package capacity

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
)

// Capacity errors
var (
	ErrGroupNotFound   = errors.New("auto scaling group not found")
	ErrNoDesiredCount  = errors.New("auto scaling group has no desired capacity")
	ErrInvalidCapacity = errors.New("desired capacity must not be negative")
)

// Controller reads and sets the desired instance count of a scaling group
type Controller interface {
	DesiredCapacity(ctx context.Context, group string) (int, error)
	SetDesiredCapacity(ctx context.Context, group string, n int, honorCooldown bool) error
}

// AutoScalingAPI is the subset of the AWS Auto Scaling client used here
type AutoScalingAPI interface {
	DescribeAutoScalingGroups(ctx context.Context, in *autoscaling.DescribeAutoScalingGroupsInput, optFns ...func(*autoscaling.Options)) (*autoscaling.DescribeAutoScalingGroupsOutput, error)
	SetDesiredCapacity(ctx context.Context, in *autoscaling.SetDesiredCapacityInput, optFns ...func(*autoscaling.Options)) (*autoscaling.SetDesiredCapacityOutput, error)
}

// AutoScaling controls an EC2 Auto Scaling group
type AutoScaling struct {
	api AutoScalingAPI
}

// Config for the Auto Scaling client
type Config struct {
	Region   string
	Endpoint string // LocalStack
}

// NewAutoScaling builds a client from the default AWS credential chain
func NewAutoScaling(ctx context.Context, cfg Config) (*AutoScaling, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	client := autoscaling.NewFromConfig(awsCfg, func(o *autoscaling.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewAutoScalingWithAPI(client), nil
}

// NewAutoScalingWithAPI wraps an existing client
func NewAutoScalingWithAPI(api AutoScalingAPI) *AutoScaling {
	return &AutoScaling{api: api}
}

func (a *AutoScaling) DesiredCapacity(ctx context.Context, group string) (int, error) {
	out, err := a.api.DescribeAutoScalingGroups(ctx, &autoscaling.DescribeAutoScalingGroupsInput{
		AutoScalingGroupNames: []string{group},
	})
	if err != nil {
		return 0, fmt.Errorf("describe auto scaling group %s: %w", group, err)
	}
	if len(out.AutoScalingGroups) == 0 {
		return 0, fmt.Errorf("%w: %s", ErrGroupNotFound, group)
	}
	desired := out.AutoScalingGroups[0].DesiredCapacity
	if desired == nil {
		return 0, fmt.Errorf("%w: %s", ErrNoDesiredCount, group)
	}
	return int(*desired), nil
}

func (a *AutoScaling) SetDesiredCapacity(ctx context.Context, group string, n int, honorCooldown bool) error {
	if n < 0 {
		return ErrInvalidCapacity
	}
	_, err := a.api.SetDesiredCapacity(ctx, &autoscaling.SetDesiredCapacityInput{
		AutoScalingGroupName: aws.String(group),
		DesiredCapacity:      aws.Int32(int32(n)),
		HonorCooldown:        aws.Bool(honorCooldown),
	})
	if err != nil {
		return fmt.Errorf("set desired capacity of %s to %d: %w", group, n, err)
	}
	return nil
}
