/*
Package validator runs static and behavioral checks on a widget bundle
before registration and aggregates them into a quality score.

Check categories run independently: manifest structure (JSON schema),
declared-vs-referenced port ids, protocol version compliance,
deprecated API usage, and static-safety heuristics on the entry
resource. Each error-severity failure subtracts 20 from a 100-point
baseline, each warning subtracts 5; positive signals (declared ports, a
ready call, defensive error handling) add small bonuses, clipped to
[0,100].

Passed is true iff zero error-severity checks failed, regardless of
score. The score is advisory; callers decide their own acceptance
threshold. Results are computed fresh on every submission and never
cached against a mutated bundle.

Older manifest documents are migrated version by version to the current
shape before any check runs, so a v1 manifest validates under v2 rules
without its author resubmitting.
*/
package validator
