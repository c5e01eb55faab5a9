// Package policy provides Open Policy Agent (OPA) integration for nodescope.
//
// This package gates installation plans using the Rego policy language. It
// includes built-in policies for common governance requirements and supports
// custom policy loading with hot reload.
//
// # Usage
//
// Creating a policy engine:
//
//	logger := zerolog.New(os.Stdout)
//	engine, err := policy.NewEngine(logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Evaluating a plan:
//
//	result, err := engine.EvaluatePlan(ctx, host, plan, &policy.Context{
//	    Environment: "production",
//	    Operation:   "install",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if !result.Allowed {
//	    for _, violation := range result.Violations {
//	        fmt.Printf("Policy %s violated: %s\n", violation.Policy, violation.Message)
//	    }
//	}
//
// Loading custom policies:
//
//	paths := []string{
//	    "/etc/nodescope/policies",
//	    "/opt/policies/custom.rego",
//	}
//
//	err = engine.LoadPolicies(ctx, paths)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Built-in Policies
//
// The following policies are included by default:
//
//  1. proxy-key-auth - Requires key-based authentication for PROXY hosts
//  2. login-account - Discourages root logins for manual installs
//  3. uninstall-restrictions - Blocks proxy uninstalls in production
//  4. plan-shape - Validates that plans carry executable commands
//
// # Custom Policies
//
// Custom policies can be written in Rego and loaded from files:
//
//	package custom.policies.windows
//
//	import rego.v1
//
//	deny contains violation if {
//	    input.host
//	    input.host.os_type == "WINDOWS"
//	    input.context.environment == "production"
//
//	    violation := {
//	        "message": "Windows agents are not rolled out to production yet",
//	        "severity": "error",
//	    }
//	}
//
// # Severity Levels
//
// Violations have four severity levels:
//
//  - info: Informational messages
//  - warning: Issues that should be reviewed but don't block operations
//  - error: Issues that block operations
//  - critical: Severe issues requiring immediate attention
//
// # Hot Reload
//
// The loader supports watching policy files for changes and reloading automatically:
//
//	loader := policy.NewLoader(logger)
//	err = loader.Watch(ctx, paths, func(policies []policy.Policy) error {
//	    return engine.LoadPolicies(ctx, paths)
//	})
//
// # Performance
//
// Policies are compiled once and reused for multiple evaluations. The engine
// uses OPA's PreparedEvalQuery for optimal performance. Caching is implemented
// at both the loader and engine levels.
package policy
