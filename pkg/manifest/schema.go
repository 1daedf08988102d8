package manifest

// The schema checks the shape of a manifest; anything that needs
// cross-referencing (e.g., that a cluster is given somewhere) is left
// to Validate.
const schemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "ecsdeploy manifest",
  "type": "object",
  "required": ["appName", "aws"],
  "additionalProperties": false,
  "definitions": {
    "aws": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "region": {"type": "string", "minLength": 1},
        "defaultECSCluster": {"type": "string"}
      }
    },
    "taskTemplate": {
      "type": "object",
      "required": ["containerDefinitions"],
      "properties": {
        "family": {"type": "string"},
        "taskRoleArn": {"type": "string"},
        "executionRoleArn": {"type": "string"},
        "networkMode": {"type": "string", "enum": ["bridge", "host", "awsvpc", "none"]},
        "cpu": {"type": "string"},
        "memory": {"type": "string"},
        "requiresCompatibilities": {"type": "array", "items": {"type": "string"}},
        "containerDefinitions": {
          "type": "array",
          "minItems": 1,
          "items": {
            "type": "object",
            "required": ["name", "image"],
            "properties": {
              "name": {"type": "string", "minLength": 1},
              "image": {"type": "string", "minLength": 1},
              "cpu": {"type": "integer", "minimum": 0},
              "memory": {"type": "integer", "minimum": 0},
              "memoryReservation": {"type": "integer", "minimum": 0},
              "essential": {"type": "boolean"},
              "command": {"type": "array", "items": {"type": "string"}},
              "entryPoint": {"type": "array", "items": {"type": "string"}},
              "environment": {"type": "object", "additionalProperties": {"type": "string"}},
              "secrets": {"type": "object", "additionalProperties": {"type": "string"}},
              "portMappings": {
                "type": "array",
                "items": {
                  "type": "object",
                  "required": ["containerPort"],
                  "properties": {
                    "containerPort": {"type": "integer", "minimum": 1},
                    "hostPort": {"type": "integer", "minimum": 0},
                    "protocol": {"type": "string", "enum": ["tcp", "udp"]}
                  }
                }
              },
              "logConfiguration": {
                "type": "object",
                "required": ["logDriver"],
                "properties": {
                  "logDriver": {"type": "string"},
                  "options": {"type": "object", "additionalProperties": {"type": "string"}}
                }
              }
            }
          }
        }
      }
    },
    "service": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "taskTemplate": {"$ref": "#/definitions/taskTemplate"},
        "active": {"type": "boolean"},
        "cluster": {"type": "string"},
        "initialCount": {"type": "integer", "minimum": 0},
        "role": {"type": "string"},
        "taskDefinitionArn": {"type": "string"},
        "loadBalancers": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["containerName", "containerPort"],
            "properties": {
              "targetGroupArn": {"type": "string"},
              "loadBalancerName": {"type": "string"},
              "containerName": {"type": "string"},
              "containerPort": {"type": "integer", "minimum": 1}
            }
          }
        }
      }
    },
    "job": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "taskTemplate": {"$ref": "#/definitions/taskTemplate"},
        "active": {"type": "boolean"},
        "cluster": {"type": "string"},
        "schedule": {"type": "string"},
        "runOnDeploy": {"type": "string", "enum": ["before", "after"]},
        "taskDefinitionArn": {"type": "string"}
      }
    },
    "override": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "aws": {"$ref": "#/definitions/aws"},
        "services": {"type": "object", "additionalProperties": {"$ref": "#/definitions/service"}},
        "jobs": {"type": "object", "additionalProperties": {"$ref": "#/definitions/job"}},
        "updateOnly": {"type": "array", "items": {"type": "string"}}
      }
    }
  },
  "properties": {
    "schemaVersion": {"type": "string"},
    "appName": {"type": "string", "pattern": "^[a-zA-Z0-9][a-zA-Z0-9_-]*$"},
    "environment": {"type": "string"},
    "aws": {"$ref": "#/definitions/aws"},
    "images": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "required": ["repo", "tag"],
        "additionalProperties": false,
        "properties": {
          "repo": {"type": "string", "minLength": 1},
          "tag": {"type": "string", "minLength": 1},
          "buildContext": {"type": "string"},
          "dockerfile": {"type": "string"}
        }
      }
    },
    "services": {"type": "object", "additionalProperties": {"$ref": "#/definitions/service"}},
    "jobs": {"type": "object", "additionalProperties": {"$ref": "#/definitions/job"}},
    "updateOnly": {"type": "array", "items": {"type": "string"}},
    "environments": {"type": "object", "additionalProperties": {"$ref": "#/definitions/override"}}
  }
}`
